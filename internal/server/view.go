package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/roach88/snapguard/internal/ipresolve"
	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/render"
	"github.com/roach88/snapguard/internal/session"
)

// Client message types on the view socket.
const (
	msgBlur  = "blur"
	msgFocus = "focus"
	msgClose = "close"
)

// ViewMessage is pushed to the viewer after every session transition. Frame
// is set on the first active message and whenever the interlock toggles.
type ViewMessage struct {
	session.Snapshot
	Message string        `json:"message,omitempty"`
	Frame   *render.Frame `json:"frame,omitempty"`
}

type clientMessage struct {
	Type string `json:"type"`
}

// handleView runs one view session over a websocket.
//
// Activation (and with it the access log write) happens before the upgrade
// so a store failure can still be answered with a plain 500. A missing
// record upgrades normally and receives a single terminal message.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query()
	env := ir.Environment{
		UserAgent: r.UserAgent(),
		Platform:  q.Get("platform"),
	}
	vp := render.Viewport{
		Width:  queryInt(q.Get("width")),
		Height: queryInt(q.Get("height")),
	}

	engine := session.New(s.records, s.logger.Using(ipresolve.ForRequest(r)), s.sessionOpts...)
	sess, err := engine.Activate(r.Context(), id, env)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	defer sess.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("view websocket upgrade failed", "image_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go readFocus(ctx, cancel, conn, sess)
	go func() {
		if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("session countdown stopped", "image_id", id, "error", err)
		}
	}()

	s.pushUpdates(conn, sess, vp)
}

// pushUpdates writes every session update until the session finishes, then
// sends a close frame carrying the terminal message.
func (s *Server) pushUpdates(conn *websocket.Conn, sess *session.Session, vp render.Viewport) {
	var (
		rendered    bool
		interlocked bool
		last        session.Snapshot
	)
	for snap := range sess.Updates() {
		last = snap
		msg := ViewMessage{Snapshot: snap, Message: snap.Message()}

		if snap.State == session.StateActive && !snap.Closed &&
			(!rendered || snap.Interlocked() != interlocked) {
			if rec, ok := sess.Record(); ok {
				frame, err := s.renderer.Render(rec, snap.Interlocked(), vp)
				if err != nil {
					slog.Error("render failed", "image_id", snap.ImageID, "error", err)
				} else {
					msg.Frame = &frame
				}
			}
			rendered = true
			interlocked = snap.Interlocked()
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("view socket write failed", "image_id", snap.ImageID, "error", err)
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, last.Message()),
		time.Now().Add(writeWait))
}

// readFocus applies focus events from the client. Any read failure, or an
// explicit close message, cancels the session.
func readFocus(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("ignoring malformed view message", "error", err)
			continue
		}
		switch msg.Type {
		case msgBlur:
			sess.LoseFocus()
		case msgFocus:
			sess.GainFocus()
		case msgClose:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func queryInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
