package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/CodedInternet/dextrack/tracker"
)

// PlacementRecord is a unit transform as stored in the database.
type PlacementRecord struct {
	Key      string `storm:"id"` // unit number, or "combined"
	Unit     int
	Offset   [3]float64
	Rotation [9]float64 // row major
	Updated  time.Time
}

func placementKey(unit int) string {
	if unit == tracker.CombinedUnit {
		return "combined"
	}
	return strconv.Itoa(unit)
}

func (r PlacementRecord) Placement() tracker.Placement {
	rot := r.Rotation
	return tracker.Placement{
		Unit:   r.Unit,
		Offset: mgl64.Vec3{r.Offset[0], r.Offset[1], r.Offset[2]},
		Rotation: mgl64.Mat3FromRows(
			mgl64.Vec3{rot[0], rot[1], rot[2]},
			mgl64.Vec3{rot[3], rot[4], rot[5]},
			mgl64.Vec3{rot[6], rot[7], rot[8]},
		),
	}
}

// PlacementDB keeps the placements committed by alignment across restarts.
type PlacementDB struct {
	db *storm.DB
}

func openDb(dbFile string) (db *storm.DB, err error) {
	if err = os.MkdirAll(filepath.Dir(dbFile), 0755); err != nil {
		return nil, err
	}

	db, err = storm.Open(dbFile)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", dbFile)
	}

	// call inits for each type
	if err := db.Init(&PlacementRecord{}); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func NewPlacementDB(db *storm.DB) *PlacementDB {
	return &PlacementDB{db: db}
}

func (s *PlacementDB) SavePlacement(p tracker.Placement) error {
	r := p.Rotation
	rec := &PlacementRecord{
		Key:    placementKey(p.Unit),
		Unit:   p.Unit,
		Offset: [3]float64{p.Offset.X(), p.Offset.Y(), p.Offset.Z()},
		Rotation: [9]float64{
			r.At(0, 0), r.At(0, 1), r.At(0, 2),
			r.At(1, 0), r.At(1, 1), r.At(1, 2),
			r.At(2, 0), r.At(2, 1), r.At(2, 2),
		},
		Updated: time.Now().UTC(),
	}
	return errors.Wrapf(s.db.Save(rec), "saving placement for unit %s", rec.Key)
}

func (s *PlacementDB) Placements() ([]tracker.Placement, error) {
	var recs []PlacementRecord
	if err := s.db.All(&recs); err != nil {
		return nil, err
	}

	placements := make([]tracker.Placement, len(recs))
	for i, rec := range recs {
		placements[i] = rec.Placement()
	}
	return placements, nil
}

// Apply restores every stored placement onto the device. Stored units the
// device does not have are reported but do not stop the others.
func (s *PlacementDB) Apply(device tracker.Tracker) (err error) {
	placements, err := s.Placements()
	if err != nil {
		return err
	}

	for _, p := range placements {
		err = multierr.Append(err, device.SetUnitTransform(p.Unit, p.Offset, p.Rotation))
	}
	return err
}
