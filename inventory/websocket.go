package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/LdDl/brick-tracker/tracker"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// message types exchanged with the world-model over websocket
const (
	MessageTypeCreateInstance  = "create-instance"
	MessageTypeInstanceCreated = "instance-created"
	MessageTypeRemoveInstance  = "remove-instance"
	MessageTypeInstanceRemoved = "instance-removed"
)

const defaultWSRequestTimeout = 5 * time.Second

// Message is a request or reply of the websocket inventory protocol
type Message struct {
	Type      string  `json:"type"`
	RequestID uint64  `json:"request_id"`
	TypeID    int     `json:"type_id,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Handle    string  `json:"handle,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// WSService talks to a world-model server over a single websocket connection.
// Requests are serialized: each one waits for its reply.
type WSService struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
	requestID uint64
	timeout   time.Duration
}

// DialWS connects to the world-model websocket endpoint, e.g. ws://localhost:8080/ws
func DialWS(ctx context.Context, url string) (*WSService, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return &WSService{
		conn:    conn,
		timeout: defaultWSRequestTimeout,
	}, nil
}

func (s *WSService) CreateInstance(ctx context.Context, typeID tracker.LegoTypeID, centroid tracker.Point) (tracker.InstanceHandle, error) {
	reply, err := s.roundTrip(ctx, Message{
		Type:   MessageTypeCreateInstance,
		TypeID: int(typeID),
		X:      centroid.X,
		Y:      centroid.Y,
	}, MessageTypeInstanceCreated)
	if err != nil {
		return "", err
	}
	if reply.Handle == "" {
		return "", errors.Wrap(ErrRemote, "empty handle in reply")
	}
	return tracker.InstanceHandle(reply.Handle), nil
}

func (s *WSService) RemoveInstance(ctx context.Context, handle tracker.InstanceHandle) error {
	_, err := s.roundTrip(ctx, Message{
		Type:   MessageTypeRemoveInstance,
		Handle: string(handle),
	}, MessageTypeInstanceRemoved)
	return err
}

func (s *WSService) roundTrip(ctx context.Context, request Message, replyType string) (Message, error) {
	s.sendMutex.Lock()
	defer s.sendMutex.Unlock()

	s.requestID++
	request.RequestID = s.requestID

	deadline := time.Now().Add(s.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return Message{}, errors.Wrap(err, "set write deadline")
	}
	if err := s.conn.WriteJSON(request); err != nil {
		return Message{}, errors.Wrapf(err, "send %s", request.Type)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return Message{}, errors.Wrap(err, "set read deadline")
	}
	for {
		var reply Message
		if err := s.conn.ReadJSON(&reply); err != nil {
			return Message{}, errors.Wrapf(err, "read reply to %s", request.Type)
		}
		// Replies to abandoned requests are dropped
		if reply.RequestID != request.RequestID {
			continue
		}
		if reply.Error != "" {
			return Message{}, errors.Wrapf(ErrRemote, "%s: %s", request.Type, reply.Error)
		}
		if reply.Type != replyType {
			return Message{}, errors.Wrapf(ErrRemote, "unexpected reply %q to %s", reply.Type, request.Type)
		}
		return reply, nil
	}
}

// Close sends a close frame and closes the connection
func (s *WSService) Close() error {
	s.sendMutex.Lock()
	defer s.sendMutex.Unlock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
