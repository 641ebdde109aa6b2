package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"metavault/pkg/apperr"
	"metavault/pkg/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// Client 封装了与 metavault 服务端的连接
// 每个方法对应 VersionControl 的一个 RPC，返回的错误已还原成 apperr 的类别
type Client struct {
	conn *grpc.ClientConn
}

// New 创建客户端；extra 追加在默认选项之后 (测试里用来注入 bufconn dialer)
// 它会立即返回，连接在后台建立
func New(addr string, extra ...grpc.DialOption) (*Client, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(service.CodecName),
			grpc.MaxCallRecvMsgSize(64*1024*1024),
			grpc.MaxCallSendMsgSize(64*1024*1024),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close 关闭底层连接
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.conn.Invoke(ctx, service.FullMethod(method), req, resp); err != nil {
		return nil, FromStatus(err)
	}
	return resp, nil
}

// RemoteError 是服务端返回的错误，Unwrap 得到对应的 apperr 哨兵
type RemoteError struct {
	Code    codes.Code
	Message string
	kind    error
}

func (e *RemoteError) Error() string { return e.Message }
func (e *RemoteError) Unwrap() error { return e.kind }

// FromStatus 根据 ErrorInfo.Reason 把 gRPC 错误还原成领域错误
// 冲突、过期、解决方案不完整还原成带细节的结构体
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	info := service.ErrorInfo(err)
	if info == nil || info.GetDomain() != service.ErrorDomain {
		return err
	}
	md := info.GetMetadata()

	switch info.GetReason() {
	case service.ReasonStaleMergeRequest, service.ReasonConcurrent:
		return &apperr.StaleError{
			MergeRequestID: md["merge_request_id"],
			BranchID:       md["branch_id"],
			Expected:       md["expected"],
			Current:        md["current"],
			CurrentSource:  md["current_source"],
			CurrentTarget:  md["current_target"],
		}
	case service.ReasonConflict:
		return &apperr.ConflictError{Reason: st.Message(), Paths: splitList(md["paths"])}
	case service.ReasonIncomplete:
		return &apperr.IncompleteResolutionError{Missing: splitList(md["missing"])}
	}

	var kind error
	switch info.GetReason() {
	case service.ReasonNotFound:
		kind = apperr.ErrNotFound
	case service.ReasonProtected:
		kind = apperr.ErrProtectedBranch
	case service.ReasonValidation:
		kind = apperr.ErrValidation
	default:
		return err
	}
	return &RemoteError{Code: st.Code(), Message: st.Message(), kind: kind}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
