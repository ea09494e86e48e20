package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/identity"
	"github.com/mcdev12/estimate/go/internal/models"
	"github.com/mcdev12/estimate/go/internal/room"
)

// Connection is one websocket client with its own room session.
type Connection struct {
	ID        string
	SessionID string
	ClientID  string
	Conn      *websocket.Conn
	Manager   *ConnectionManager

	ConnectedAt time.Time

	identity *identity.Manager
	session  *room.Session
	ctx      context.Context
	cancel   context.CancelFunc

	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

// enqueue queues a message for the write pump. A client that cannot keep up is
// disconnected.
func (c *Connection) enqueue(msg []byte) {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	select {
	case c.send <- msg:
		c.sendMu.Unlock()
		return
	default:
	}
	c.sendMu.Unlock()

	log.Warn().
		Str("connection_id", c.ID).
		Msg("connection send buffer full, closing connection")
	c.Manager.unregisterConnection(c)
	c.Conn.Close()
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Connection) emit(t EventType, payload any) {
	msg, err := NewEvent(t, payload)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal event")
		return
	}
	c.enqueue(msg)
}

func (c *Connection) emitError(err error) {
	c.emit(EventTypeError, ErrorPayload{Message: room.UserMessage(err)})
}

// writePump handles sending messages to the websocket connection.
func (c *Connection) writePump() {
	cfg := c.Manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading client commands from the websocket connection.
func (c *Connection) readPump() {
	cfg := c.Manager.config
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

// statePump renders every session update and pushes it to the client. It also
// announces the moment the revealed votes reach consensus.
func (c *Connection) statePump() {
	var (
		lastRoom     string
		hadConsensus bool
	)
	for st := range c.session.Updates() {
		if st.RoomID != lastRoom {
			lastRoom = st.RoomID
			hadConsensus = st.Summary.HasConsensus
		}

		c.emit(EventTypeState, BuildView(st, c.Manager.config.ShareBaseURL))

		if st.Summary.HasConsensus && !hadConsensus {
			c.emit(EventTypeConsensus, ConsensusPayload{Value: st.Summary.ConsensusValue})
			log.Info().
				Str("room_id", st.RoomID).
				Str("value", string(st.Summary.ConsensusValue)).
				Msg("consensus reached")
		}
		hadConsensus = st.Summary.HasConsensus
	}
}

func (c *Connection) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.Manager.config.StoreTimeout)
}

// rejoin puts a returning browser back into roomID under its remembered name.
func (c *Connection) rejoin(roomID string) {
	ctx, cancel := c.storeContext()
	defer cancel()

	if _, ok := c.identity.Lookup(ctx); !ok {
		return
	}
	name := c.identity.StoredName(ctx)
	if name == "" {
		return
	}
	if err := c.session.JoinRoom(ctx, roomID, name); err != nil {
		log.Warn().Err(err).Str("connection_id", c.ID).Str("room_id", roomID).Msg("automatic rejoin failed")
		c.emitError(err)
	}
}

// handleClientMessage decodes and runs one command. Failures are reported to the
// client as error events; the connection stays open.
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("malformed client message")
		c.emit(EventTypeError, ErrorPayload{Message: "Malformed message."})
		return
	}

	ctx, cancel := c.storeContext()
	defer cancel()

	if err := c.dispatch(ctx, msg); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("type", string(msg.Type)).
			Msg("client command failed")
		c.emitError(err)
	}
}

var errUnknownCommand = errors.New("unknown command")

func (c *Connection) dispatch(ctx context.Context, msg ClientMessage) error {
	s := c.session
	switch msg.Type {
	case ClientMessageJoin:
		roomID := strings.TrimSpace(msg.RoomID)
		if roomID == "" {
			if strings.TrimSpace(msg.Name) == "" {
				return &room.ValidationError{Field: "name", Message: "Please enter your name"}
			}
			id, err := s.FindRoomByCode(ctx, msg.Code)
			if err != nil {
				return err
			}
			roomID = id
		}
		return s.JoinRoom(ctx, roomID, msg.Name)

	case ClientMessageCreate:
		name := strings.TrimSpace(msg.Name)
		if name == "" {
			return &room.ValidationError{Field: "name", Message: "Please enter your name"}
		}
		roomID, err := s.CreateRoom(ctx)
		if err != nil {
			return err
		}
		c.emit(EventTypeCreated, CreatedPayload{RoomID: roomID})
		return s.JoinRoom(ctx, roomID, name)

	case ClientMessageVote:
		v, err := models.ParseVote(msg.Value)
		if err != nil {
			return &room.ValidationError{Field: "value", Message: "Please pick a card from the deck"}
		}
		if r := s.Room(); r != nil && r.Revealed {
			// Cards are locked until the next reset.
			return nil
		}
		return s.Vote(ctx, v)

	case ClientMessageReveal:
		return s.RevealVotes(ctx)

	case ClientMessageReset:
		return s.ResetVotes(ctx)

	case ClientMessageTopic:
		return s.UpdateTopic(ctx, msg.Topic)

	case ClientMessageLeave:
		return s.LeaveRoom(ctx)

	default:
		log.Debug().Str("connection_id", c.ID).Str("type", string(msg.Type)).Msg("unknown client message type")
		return errUnknownCommand
	}
}
