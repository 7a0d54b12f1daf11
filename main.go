package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/abiosoft/ishell"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/CodedInternet/dextrack/comms"
	"github.com/CodedInternet/dextrack/tracker"
)

type EnvConfig struct {
	JWT_ISSUER string `env:"RESIN_DEVICE_UUID" envDefault:"DEV"`
	JWT_SECRET string `env:"JWT_SECRET" envDefault:"xWumOlRfhu+LBi2F2e1yF4FiaopQ5mr8klL4fpILnlI="`
	DEBUG      bool   `env:"DEBUG" envDefault:"0"`
	CONFIG     string `env:"DEXTRACK_CONFIG" envDefault:"./dextrack.yaml"`
	DB_FILE    string `env:"DEXTRACK_DB" envDefault:"./tmp/dev.db"`
	HTMLDIR    string `env:"HTMLDIR" envDefault:"./frontend/dist/"`
	LOG_LEVEL  string `env:"LOG_LEVEL" envDefault:"info"`
	DB         *storm.DB
	Placements *PlacementDB
	Conductor  *comms.Conductor
	Simulated  bool
}

var (
	ENV    *EnvConfig
	logger zerolog.Logger
)

func init() {
	ENV = new(EnvConfig)
	env.Parse(ENV)

	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(ENV.LOG_LEVEL); err == nil {
		logger = logger.Level(level)
	}
}

func main() {
	simulated := flag.Bool("sim", false, "Run with the simulated tracker")
	port := flag.String("port", "0.0.0.0:8080", "Specify the ip:port to listen on")
	configFile := flag.String("config", ENV.CONFIG, "Tracker configuration file")
	flag.Parse()

	if err := run(*configFile, *port, *simulated); err != nil {
		logger.Fatal().Err(err).Msg("dextrack stopped")
	}
}

func run(configFile, port string, simulated bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDb(ENV.DB_FILE)
	if err != nil {
		return err
	}
	defer db.Close() // close database when finished
	ENV.DB = db
	ENV.Placements = NewPlacementDB(db)

	config := tracker.DefaultConfig()
	if _, err := os.Stat(configFile); err == nil {
		if config, err = tracker.LoadConfig(configFile); err != nil {
			return errors.Wrapf(err, "loading %s", configFile)
		}
	} else {
		logger.Warn().Str("config", configFile).Msg("no config file, using defaults")
	}

	ENV.Simulated = simulated
	if ENV.Simulated {
		config.Backend = tracker.BackendSimulator
	}

	var conductor *comms.Conductor
	device, err := tracker.NewFromConfig(config, nil, logger, func(status string) {
		conductor.ReportStatus(status)
	})
	if err != nil {
		return errors.Wrap(err, "building tracker")
	}
	conductor = comms.NewConductor(device, ENV.Placements, nil, logger)
	ENV.Conductor = conductor

	if err := ENV.Placements.Apply(device); err != nil {
		logger.Warn().Err(err).Msg("some stored placements could not be applied")
	}

	if err := device.Initialize(); err != nil {
		return errors.Wrapf(err, "initializing %s tracker", config.Backend)
	}
	defer func() {
		if err := device.Quit(); err != nil {
			logger.Error().Err(err).Msg("quitting tracker")
		}
	}()

	go conductor.Run(ctx)

	startShell()

	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	r.Route("/api", Routes)

	r.Route("/ws", func(r chi.Router) {
		if !ENV.DEBUG {
			r.Use(ValidateJWT)
		} else {
			logger.Warn().Msg("Running in debug mode. Authentication disabled.")
		}

		r.Get("/stream", StreamHandler)
	})

	FileServer(r, "/", http.Dir(ENV.HTMLDIR))

	srv := &http.Server{Addr: port, Handler: r}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	logger.Info().Str("addr", port).Str("backend", config.Backend).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// startShell runs a local shell so the tracker can be driven from the CLI.
func startShell() {
	shell := ishell.New()
	shell.Println("dextrack development shell")
	shell.ShowPrompt(true)

	for _, cmd := range shellCmds() {
		shell.AddCmd(cmd)
	}

	go shell.Start()
}

func parseUnit(s string) (int, error) {
	if s == "combined" {
		return tracker.CombinedUnit, nil
	}
	return strconv.Atoi(s)
}

func shellCmds() []*ishell.Cmd {
	device := func() tracker.Tracker {
		return ENV.Conductor.Device
	}
	units := func([]string) []string {
		names := []string{"combined"}
		for u := 0; u < device().GetNumberOfUnits(); u++ {
			names = append(names, strconv.Itoa(u))
		}
		return names
	}

	return []*ishell.Cmd{
		{
			Name: "token",
			Help: "token <subject>",
			Func: func(c *ishell.Context) {
				sub := "shell"
				if len(c.Args) >= 1 {
					sub = c.Args[0]
				}
				ts, err := newJWT(sub)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(ts)
			},
		},
		{
			Name: "status",
			Help: "status",
			Func: func(c *ishell.Context) {
				s := ENV.Conductor.State()
				c.Printf("acquiring:%v overrun:%v degraded:%v status:%q error:%q\n",
					s.Acquiring, s.Overrun, s.Degraded, s.Status, s.Error)
			},
		},
		{
			Name: "start",
			Help: "start <seconds>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 {
					c.Err(errors.New("usage: start <seconds>"))
					return
				}
				seconds, err := strconv.ParseFloat(c.Args[0], 64)
				if err != nil {
					c.Err(err)
					return
				}
				if err := ENV.Conductor.ProcessCommand(comms.Cmd{Cmd: "start", Value: seconds}); err != nil {
					c.Err(err)
				}
			},
		},
		{
			Name: "stop",
			Help: "stop",
			Func: func(c *ishell.Context) {
				if err := ENV.Conductor.ProcessCommand(comms.Cmd{Cmd: "stop"}); err != nil {
					c.Err(err)
				}
			},
		},
		{
			Name:      "retrieve",
			Help:      "retrieve <unit> [max]",
			Completer: units,
			Func: func(c *ishell.Context) {
				if len(c.Args) < 1 {
					c.Err(errors.New("usage: retrieve <unit> [max]"))
					return
				}
				unit, err := parseUnit(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				limit := 10
				if len(c.Args) >= 2 {
					if limit, err = parseLimit(c.Args[1]); err != nil {
						c.Err(err)
						return
					}
				}

				frames := make([]tracker.Frame, limit)
				n := device().RetrieveMarkerFrames(frames, limit, unit)
				for _, f := range frames[:n] {
					c.Printf("%8.3f %v\n", f.Time, f.Markers[0].Position)
				}
				c.Printf("%d frames\n", n)
			},
		},
		{
			Name:      "current",
			Help:      "current [unit]",
			Completer: units,
			Func: func(c *ishell.Context) {
				unit := tracker.CombinedUnit
				if len(c.Args) >= 1 {
					var err error
					if unit, err = parseUnit(c.Args[0]); err != nil {
						c.Err(err)
						return
					}
				}
				f, ok := device().GetCurrentMarkerFrameUnit(unit)
				if !ok {
					c.Println("no frame yet")
					return
				}
				for i, m := range f.Markers {
					if m.Visible {
						c.Printf("%2d %v\n", i, m.Position)
					}
				}
			},
		},
		{
			Name: "align",
			Help: "align <origin> <x-> <x+> <xy-> <xy+>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 5 {
					c.Err(comms.ErrBadMarkers)
					return
				}
				markers := make([]int, 5)
				for i, a := range c.Args {
					id, err := strconv.Atoi(a)
					if err != nil {
						c.Err(err)
						return
					}
					markers[i] = id
				}
				if err := ENV.Conductor.ProcessCommand(comms.Cmd{Cmd: "align", Markers: markers}); err != nil {
					c.Err(err)
					return
				}
				c.Println("aligned")
			},
		},
		{
			Name:      "placement",
			Help:      "placement <unit>",
			Completer: units,
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 {
					c.Err(errors.New("usage: placement <unit>"))
					return
				}
				unit, err := parseUnit(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				pos, ori, err := device().GetUnitPlacement(unit)
				if err != nil {
					c.Err(err)
					return
				}
				c.Printf("position %v orientation %v %v\n", pos, ori.W, ori.V)
			},
		},
	}
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", http.StatusMovedPermanently).ServeHTTP)
		path += "/"
	}

	r.Get(path+"*", fs.ServeHTTP)
}
