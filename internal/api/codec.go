package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wpprtc/internal/call"
	"github.com/matheus3301/wpprtc/internal/chat"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/remote"
	"github.com/matheus3301/wpprtc/internal/transport"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// encode converts v into a Struct through its JSON form. Slices are wrapped
// as {"items": [...]}.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	var fields map[string]any
	if len(data) > 0 && data[0] == '[' {
		var items []any
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
		}
		fields = map[string]any{"items": items}
	} else if err := json.Unmarshal(data, &fields); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// Decode unmarshals a Struct into v through its JSON form.
func Decode(in *structpb.Struct, v any) error {
	data, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func ok() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"ok": structpb.NewBoolValue(true)}}
}

func str(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

func boolean(in *structpb.Struct, key string) bool {
	return in.GetFields()[key].GetBoolValue()
}

func number(in *structpb.Struct, key string, def int) int {
	v, found := in.GetFields()[key]
	if !found {
		return def
	}
	return int(v.GetNumberValue())
}

func required(in *structpb.Struct, keys ...string) error {
	for _, k := range keys {
		if str(in, k) == "" {
			return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", k)
		}
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, isStatus := grpcstatus.FromError(err); isStatus {
		return err
	}
	msg := fmt.Sprintf("%s: %v", op, err)
	switch {
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, msg)
	case errors.Is(err, chat.ErrUnknownMessage):
		return grpcstatus.Error(codes.NotFound, msg)
	case errors.Is(err, chat.ErrSuperseded), errors.Is(err, call.ErrCancelled):
		return grpcstatus.Error(codes.Aborted, msg)
	case errors.Is(err, call.ErrBusy), errors.Is(err, call.ErrNoSession), errors.Is(err, call.ErrInvalidState):
		return grpcstatus.Error(codes.FailedPrecondition, msg)
	case errors.Is(err, transport.ErrNotConnected):
		return grpcstatus.Error(codes.Unavailable, msg)
	case errors.Is(err, remote.ErrUnauthorized):
		return grpcstatus.Error(codes.Unauthenticated, msg)
	}
	var httpErr *remote.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 404:
			return grpcstatus.Error(codes.NotFound, msg)
		case httpErr.Status >= 500:
			return grpcstatus.Error(codes.Unavailable, msg)
		case httpErr.Status >= 400:
			return grpcstatus.Error(codes.InvalidArgument, msg)
		}
	}
	return grpcstatus.Error(codes.Internal, msg)
}

// attachment decodes the optional base64 media_data field with its
// media_name and media_type.
func attachment(in *structpb.Struct) (*model.Media, error) {
	raw := str(in, "media_data")
	if raw == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "media_data: %v", err)
	}
	return &model.Media{FileName: str(in, "media_name"), ContentType: str(in, "media_type"), Data: data}, nil
}
