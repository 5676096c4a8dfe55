package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ChuLiYu/trip-planner/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrStreamEnded is returned when the server closes the Plan stream before
// sending the Final snapshot.
var ErrStreamEnded = errors.New("plan stream ended before the final snapshot")

// Client talks to a remote tripplanner.v1.Planner.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn // nil when built from an existing connection
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Plan submits req and calls onUpdate for every snapshot in order. It
// returns the Final snapshot, or the first error from the stream or from
// onUpdate. Cancelling ctx cancels the request on the server.
func (c *Client) Plan(ctx context.Context, req types.Request, onUpdate func(types.AggregateSnapshot) error) (types.AggregateSnapshot, error) {
	var final types.AggregateSnapshot

	in, err := ToStruct(req)
	if err != nil {
		return final, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.cc.NewStream(ctx, &PlannerServiceDesc.Streams[0], methodPlan)
	if err != nil {
		return final, fmt.Errorf("rpc plan failed: %w", err)
	}
	if err := stream.SendMsg(in); err != nil {
		return final, fmt.Errorf("rpc plan failed: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return final, fmt.Errorf("rpc plan failed: %w", err)
	}

	for {
		msg := new(structpb.Struct)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			return final, ErrStreamEnded
		}
		if err != nil {
			return final, fmt.Errorf("rpc plan failed: %w", err)
		}

		var snap types.AggregateSnapshot
		if err := FromStruct(msg, &snap); err != nil {
			return final, fmt.Errorf("decode snapshot: %w", err)
		}
		if onUpdate != nil {
			if err := onUpdate(snap); err != nil {
				return final, err
			}
		}
		if snap.IsFinal() {
			return snap, nil
		}
	}
}

// Cancel cancels a request on the server.
func (c *Client) Cancel(ctx context.Context, id types.RequestID) error {
	in, err := structpb.NewStruct(map[string]any{"request_id": string(id)})
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodCancel, in, out); err != nil {
		return fmt.Errorf("rpc cancel failed: %w", err)
	}
	return nil
}
