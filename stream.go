package main

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/CodedInternet/dextrack/comms"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// CmdReply answers a command sent over the stream.
type CmdReply struct {
	Cmd   string
	OK    bool
	Error string `json:",omitempty"`
}

// StreamHandler publishes the conductor state to a websocket client and
// accepts comms.Cmd messages from it.
func StreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	states, unsubscribe := ENV.Conductor.Subscribe()
	defer unsubscribe()

	var commands comms.ConductorInterface = ENV.Conductor
	replies := make(chan CmdReply, 4)
	quit := make(chan struct{})
	defer close(quit)

	// only this goroutine reads; all writes happen below
	go func() {
		defer close(replies)
		for {
			var cmd comms.Cmd
			if err := conn.ReadJSON(&cmd); err != nil {
				logger.Debug().Err(err).Msg("stream closed")
				return
			}

			reply := CmdReply{Cmd: cmd.Cmd, OK: true}
			if err := commands.ProcessCommand(cmd); err != nil {
				reply.OK = false
				reply.Error = err.Error()
			}

			select {
			case replies <- reply:
			case <-quit:
				return
			}
		}
	}()

	for {
		var msg interface{}
		select {
		case reply, ok := <-replies:
			if !ok {
				return
			}
			msg = reply
		case state, ok := <-states:
			if !ok {
				return
			}
			msg = state
		}

		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug().Err(err).Msg("stream write failed")
			return
		}
	}
}
