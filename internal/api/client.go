package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/minichat/internal/chat"
	"github.com/matheus3301/minichat/internal/conversation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RemoteError is a daemon error. It unwraps to the matching domain sentinel
// so callers can use errors.Is on either side of the socket.
type RemoteError struct {
	Code     codes.Code
	Message  string
	sentinel error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.sentinel }

func fromRPC(err error) error {
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.FailedPrecondition:
		sentinel = chat.ErrBusy
	case codes.InvalidArgument:
		sentinel = chat.ErrInvalidContent
	case codes.NotFound:
		sentinel = conversation.ErrNotFound
	case codes.ResourceExhausted:
		sentinel = conversation.ErrCapacity
	case codes.Unavailable:
		sentinel = chat.ErrClosed
	default:
		return err
	}
	return &RemoteError{Code: st.Code(), Message: st.Message(), sentinel: sentinel}
}

// Client talks to a session daemon.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to the daemon listening on socketPath. The connection is
// established lazily on the first call.
func Dial(socketPath string) (*Client, io.Closer, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return NewClient(conn), conn, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return fromRPC(err)
	}
	return nil
}

func (c *Client) invokeJSON(ctx context.Context, method string, in any, v any) error {
	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, method, in, out); err != nil {
		return err
	}
	if err := json.Unmarshal(out.GetValue(), v); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "GetStatus", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	f := out.GetFields()
	st := Status{
		Session:              f["session"].GetStringValue(),
		Status:               f["status"].GetStringValue(),
		Message:              f["message"].GetStringValue(),
		RetryCount:           int(f["retry_count"].GetNumberValue()),
		ActiveConversationID: f["active_conversation_id"].GetStringValue(),
		Conversations:        int(f["conversations"].GetNumberValue()),
		UptimeMs:             int64(f["uptime_ms"].GetNumberValue()),
		ProxyURL:             f["proxy_url"].GetStringValue(),
	}
	return &st, nil
}

// Send blocks until the request reaches a terminal status.
func (c *Client) Send(ctx context.Context, content string) (*chat.Outcome, error) {
	var out chat.Outcome
	if err := c.invokeJSON(ctx, "Send", wrapperspb.String(content), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel reports whether a request was in flight.
func (c *Client) Cancel(ctx context.Context) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.invoke(ctx, "Cancel", &emptypb.Empty{}, out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *Client) ListConversations(ctx context.Context) (*conversation.AppState, error) {
	var st conversation.AppState
	if err := c.invokeJSON(ctx, "ListConversations", &emptypb.Empty{}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetConversation fetches id, or the active conversation when id is "".
func (c *Client) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := c.invokeJSON(ctx, "GetConversation", wrapperspb.String(id), &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) CreateConversation(ctx context.Context) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := c.invokeJSON(ctx, "CreateConversation", &emptypb.Empty{}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.invoke(ctx, "DeleteConversation", wrapperspb.String(id), new(emptypb.Empty))
}

func (c *Client) SwitchConversation(ctx context.Context, id string) error {
	return c.invoke(ctx, "SwitchConversation", wrapperspb.String(id), new(emptypb.Empty))
}

// EventStream yields events from WatchEvents.
type EventStream struct {
	stream grpc.ServerStreamingClient[wrapperspb.BytesValue]
}

// Recv blocks for the next event. Returns io.EOF when the daemon ends the
// stream.
func (s *EventStream) Recv() (*EventEnvelope, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fromRPC(err)
	}
	var evt EventEnvelope
	if err := json.Unmarshal(msg.GetValue(), &evt); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &evt, nil
}

// WatchEvents subscribes to events whose kind starts with prefix. An empty
// prefix receives everything. Cancel ctx to stop.
func (c *Client) WatchEvents(ctx context.Context, prefix string) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &ChatServiceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return nil, fromRPC(err)
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, wrapperspb.BytesValue]{ClientStream: stream}
	if err := x.SendMsg(wrapperspb.String(prefix)); err != nil {
		return nil, fromRPC(err)
	}
	if err := x.CloseSend(); err != nil {
		return nil, fromRPC(err)
	}
	return &EventStream{stream: x}, nil
}
