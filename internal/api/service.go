package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/minichat/internal/bus"
	"github.com/matheus3301/minichat/internal/chat"
	"github.com/matheus3301/minichat/internal/conversation"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Status is the decoded GetStatus response.
type Status struct {
	Session              string `json:"session"`
	Status               string `json:"status"`
	Message              string `json:"message"`
	RetryCount           int    `json:"retry_count"`
	ActiveConversationID string `json:"active_conversation_id"`
	Conversations        int    `json:"conversations"`
	UptimeMs             int64  `json:"uptime_ms"`
	ProxyURL             string `json:"proxy_url"`
}

// EventEnvelope wraps one bus event on the WatchEvents stream.
type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	Session          string          `json:"session"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurred_at_unix_ms"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}

// Service implements ChatServiceServer on top of the store and controller.
type Service struct {
	sessionName string
	proxyURL    string
	startedAt   time.Time
	store       *conversation.Store
	ctrl        *chat.Controller
	bus         *bus.Bus
	logger      *zap.Logger

	done     chan struct{}
	doneOnce sync.Once
}

var _ ChatServiceServer = (*Service)(nil)

// NewService creates the control API for one session.
func NewService(sessionName, proxyURL string, st *conversation.Store, ctrl *chat.Controller, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessionName: sessionName,
		proxyURL:    proxyURL,
		startedAt:   time.Now(),
		store:       st,
		ctrl:        ctrl,
		bus:         b,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Shutdown ends every open WatchEvents stream.
func (s *Service) Shutdown() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	req := s.ctrl.State()
	st, err := structpb.NewStruct(map[string]any{
		"session":                s.sessionName,
		"status":                 string(req.Status),
		"message":                req.Error,
		"retry_count":            req.RetryCount,
		"active_conversation_id": s.store.ActiveID(),
		"conversations":          len(s.store.Conversations()),
		"uptime_ms":              time.Since(s.startedAt).Milliseconds(),
		"proxy_url":              s.proxyURL,
	})
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode status: %v", err)
	}
	return st, nil
}

func (s *Service) Send(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	out, err := s.ctrl.Send(ctx, req.GetValue())
	if err != nil {
		return nil, toRPC(err)
	}
	return encode(out)
}

func (s *Service) Cancel(_ context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.ctrl.Cancel()), nil
}

func (s *Service) ListConversations(_ context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	return encode(s.store.State())
}

func (s *Service) GetConversation(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	id := req.GetValue()
	var (
		c  conversation.Conversation
		ok bool
	)
	if id == "" {
		c, ok = s.store.Active()
	} else {
		c, ok = s.store.Conversation(id)
	}
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %q not found", id)
	}
	return encode(c)
}

func (s *Service) CreateConversation(_ context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	c, err := s.store.CreateConversation()
	if err != nil {
		return nil, toRPC(err)
	}
	return encode(c)
}

func (s *Service) DeleteConversation(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.store.DeleteConversation(req.GetValue()); err != nil {
		return nil, toRPC(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Service) SwitchConversation(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.store.SwitchConversation(req.GetValue()); err != nil {
		return nil, toRPC(err)
	}
	return &emptypb.Empty{}, nil
}

// WatchEvents streams bus events whose kind starts with the requested prefix
// until the client goes away.
func (s *Service) WatchEvents(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[wrapperspb.BytesValue]) error {
	ch, unsub := s.bus.Subscribe(req.GetValue(), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := json.Marshal(evt.Payload)
			if err != nil {
				s.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			msg, err := encode(EventEnvelope{
				EventID:          uuid.NewString(),
				Session:          s.sessionName,
				Kind:             evt.Kind,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Payload:          payload,
			})
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return nil
		}
	}
}

func encode(v any) (*wrapperspb.BytesValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return wrapperspb.Bytes(data), nil
}

// toRPC maps domain errors to gRPC status codes.
func toRPC(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, chat.ErrBusy):
		code = codes.FailedPrecondition
	case errors.Is(err, chat.ErrInvalidContent):
		code = codes.InvalidArgument
	case errors.Is(err, chat.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, conversation.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, conversation.ErrCapacity):
		code = codes.ResourceExhausted
	}
	return grpcstatus.Error(code, err.Error())
}
