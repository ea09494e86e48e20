package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/room"
)

const (
	// RoomDirectoryServiceName is the fully-qualified name of the directory service.
	RoomDirectoryServiceName = "estimate.v1.RoomDirectoryService"

	CreateRoomProcedure     = "/" + RoomDirectoryServiceName + "/CreateRoom"
	FindRoomByCodeProcedure = "/" + RoomDirectoryServiceName + "/FindRoomByCode"
)

type CreateRoomRequest struct{}

type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
	Code   string `json:"code"`
}

type FindRoomByCodeRequest struct {
	Code string `json:"code"`
}

type FindRoomByCodeResponse struct {
	RoomID string `json:"room_id"`
}

// jsonCodec lets connect carry plain Go structs as application/json.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// CodecOption configures connect handlers and clients for the directory service.
func CodecOption() connect.Option {
	return connect.WithCodec(jsonCodec{})
}

// DirectoryHandler serves room creation and code lookup for clients that do not
// hold a websocket, such as the landing page.
type DirectoryHandler struct {
	directory *room.Directory
}

// NewDirectoryHandler creates a directory handler.
func NewDirectoryHandler(directory *room.Directory) *DirectoryHandler {
	return &DirectoryHandler{directory: directory}
}

func (h *DirectoryHandler) CreateRoom(ctx context.Context, req *connect.Request[CreateRoomRequest]) (*connect.Response[CreateRoomResponse], error) {
	roomID, err := h.directory.CreateRoom(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	r, err := h.directory.GetRoom(ctx, roomID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CreateRoomResponse{RoomID: roomID, Code: r.Code}), nil
}

func (h *DirectoryHandler) FindRoomByCode(ctx context.Context, req *connect.Request[FindRoomByCodeRequest]) (*connect.Response[FindRoomByCodeResponse], error) {
	roomID, err := h.directory.FindRoomByCode(ctx, req.Msg.Code)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&FindRoomByCodeResponse{RoomID: roomID}), nil
}

// Handler returns the service path prefix and the handler serving both procedures.
func (h *DirectoryHandler) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{CodecOption()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateRoomProcedure, connect.NewUnaryHandler(CreateRoomProcedure, h.CreateRoom, opts...))
	mux.Handle(FindRoomByCodeProcedure, connect.NewUnaryHandler(FindRoomByCodeProcedure, h.FindRoomByCode, opts...))
	return "/" + RoomDirectoryServiceName + "/", mux
}

func toConnectError(err error) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, room.ErrValidation):
		code = connect.CodeInvalidArgument
	case errors.Is(err, room.ErrRoomNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, room.ErrCodeUnavailable):
		code = connect.CodeResourceExhausted
	default:
		log.Error().Err(err).Msg("directory request failed")
	}
	return connect.NewError(code, errors.New(room.UserMessage(err)))
}

// DirectoryClient calls the directory service.
type DirectoryClient struct {
	createRoom     *connect.Client[CreateRoomRequest, CreateRoomResponse]
	findRoomByCode *connect.Client[FindRoomByCodeRequest, FindRoomByCodeResponse]
}

// NewDirectoryClient creates a client for the service at baseURL.
func NewDirectoryClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *DirectoryClient {
	opts = append([]connect.ClientOption{CodecOption()}, opts...)
	return &DirectoryClient{
		createRoom:     connect.NewClient[CreateRoomRequest, CreateRoomResponse](httpClient, baseURL+CreateRoomProcedure, opts...),
		findRoomByCode: connect.NewClient[FindRoomByCodeRequest, FindRoomByCodeResponse](httpClient, baseURL+FindRoomByCodeProcedure, opts...),
	}
}

func (c *DirectoryClient) CreateRoom(ctx context.Context) (*CreateRoomResponse, error) {
	res, err := c.createRoom.CallUnary(ctx, connect.NewRequest(&CreateRoomRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *DirectoryClient) FindRoomByCode(ctx context.Context, code string) (*FindRoomByCodeResponse, error) {
	res, err := c.findRoomByCode.CallUnary(ctx, connect.NewRequest(&FindRoomByCodeRequest{Code: code}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
