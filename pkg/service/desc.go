package service

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName 是 gRPC 的全限定服务名
const ServiceName = "metavault.v1.VersionControl"

// FullMethod 返回方法的完整路径，例如 /metavault.v1.VersionControl/CreateVersion
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// VersionControlServer 是 ServiceDesc 的 HandlerType，*Server 实现了它
type VersionControlServer interface {
	CreateVersion(context.Context, *CreateVersionRequest) (*Version, error)
	GetVersion(context.Context, *VersionRequest) (*Version, error)
	ListVersions(context.Context, *ListVersionsRequest) (*VersionList, error)
	RestoreVersion(context.Context, *RestoreVersionRequest) (*Version, error)
	DeleteVersion(context.Context, *VersionRequest) (*Empty, error)
	CompareVersions(context.Context, *CompareRequest) (*Comparison, error)

	CreateBranch(context.Context, *CreateBranchRequest) (*Branch, error)
	ListBranches(context.Context, *BranchRequest) (*BranchList, error)
	GetBranchInfo(context.Context, *BranchRequest) (*BranchInfo, error)
	DeleteBranch(context.Context, *BranchRequest) (*Empty, error)
	ProtectBranch(context.Context, *BranchRequest) (*Branch, error)
	UnprotectBranch(context.Context, *BranchRequest) (*Branch, error)
	CompareBranches(context.Context, *CompareRequest) (*Comparison, error)

	CreateMergeRequest(context.Context, *CreateMergeRequestRequest) (*MergeRequestView, error)
	GetMergeRequest(context.Context, *MergeRequestRef) (*MergeRequest, error)
	ListMergeRequests(context.Context, *ListMergeRequestsRequest) (*MergeRequestList, error)
	RefreshMergeRequest(context.Context, *MergeRequestRef) (*MergeRequestView, error)
	ApproveMergeRequest(context.Context, *MergeRequestRef) (*MergeRequest, error)
	RejectMergeRequest(context.Context, *MergeRequestRef) (*MergeRequest, error)
	CloseMergeRequest(context.Context, *MergeRequestRef) (*MergeRequest, error)
	ReportStatusCheck(context.Context, *MergeRequestRef) (*MergeRequest, error)
	GetConflicts(context.Context, *MergeRequestRef) (*ConflictList, error)
	SuggestConflictResolutions(context.Context, *MergeRequestRef) (*SuggestionList, error)
	AutoMerge(context.Context, *MergeRequestRef) (*MergeResult, error)
	ManualMerge(context.Context, *ManualMergeRequest) (*MergeResult, error)

	CherryPick(context.Context, *CherryPickRequest) (*Version, error)
	RevertVersion(context.Context, *CherryPickRequest) (*Version, error)

	GetVersionLineage(context.Context, *VersionRequest) (*Lineage, error)
	GetChangeHistory(context.Context, *HistoryRequest) (*History, error)
	GetUserActivity(context.Context, *HistoryRequest) (*History, error)
	GetBranchHistory(context.Context, *BranchRequest) (*BranchHistory, error)

	CreateTag(context.Context, *CreateTagRequest) (*Tag, error)
	ListTags(context.Context, *ListTagsRequest) (*TagList, error)
	DeleteTag(context.Context, *ItemRequest) (*Empty, error)

	CreateComment(context.Context, *CreateCommentRequest) (*Comment, error)
	GetComments(context.Context, *VersionRequest) (*CommentList, error)
	UpdateComment(context.Context, *ItemRequest) (*Comment, error)
	DeleteComment(context.Context, *ItemRequest) (*Empty, error)
	ResolveComment(context.Context, *ItemRequest) (*Comment, error)

	LockVersion(context.Context, *LockRequest) (*Lock, error)
	UnlockVersion(context.Context, *LockRequest) (*Empty, error)
	GetVersionLocks(context.Context, *VersionRequest) (*LockList, error)
}

var _ VersionControlServer = (*Server)(nil)

// unary 为一个方法生成 MethodDesc：解码请求、走拦截器链、把领域错误转成 gRPC 状态
func unary[Req, Resp any](name string, call func(VersionControlServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			invoke := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(VersionControlServer), ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return invoke(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, invoke)
		},
	}
}

// ServiceDesc 描述 VersionControl 服务；消息用 JSON 编码 (见 CodecName)
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VersionControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateVersion", VersionControlServer.CreateVersion),
		unary("GetVersion", VersionControlServer.GetVersion),
		unary("ListVersions", VersionControlServer.ListVersions),
		unary("RestoreVersion", VersionControlServer.RestoreVersion),
		unary("DeleteVersion", VersionControlServer.DeleteVersion),
		unary("CompareVersions", VersionControlServer.CompareVersions),

		unary("CreateBranch", VersionControlServer.CreateBranch),
		unary("ListBranches", VersionControlServer.ListBranches),
		unary("GetBranchInfo", VersionControlServer.GetBranchInfo),
		unary("DeleteBranch", VersionControlServer.DeleteBranch),
		unary("ProtectBranch", VersionControlServer.ProtectBranch),
		unary("UnprotectBranch", VersionControlServer.UnprotectBranch),
		unary("CompareBranches", VersionControlServer.CompareBranches),

		unary("CreateMergeRequest", VersionControlServer.CreateMergeRequest),
		unary("GetMergeRequest", VersionControlServer.GetMergeRequest),
		unary("ListMergeRequests", VersionControlServer.ListMergeRequests),
		unary("RefreshMergeRequest", VersionControlServer.RefreshMergeRequest),
		unary("ApproveMergeRequest", VersionControlServer.ApproveMergeRequest),
		unary("RejectMergeRequest", VersionControlServer.RejectMergeRequest),
		unary("CloseMergeRequest", VersionControlServer.CloseMergeRequest),
		unary("ReportStatusCheck", VersionControlServer.ReportStatusCheck),
		unary("GetConflicts", VersionControlServer.GetConflicts),
		unary("SuggestConflictResolutions", VersionControlServer.SuggestConflictResolutions),
		unary("AutoMerge", VersionControlServer.AutoMerge),
		unary("ManualMerge", VersionControlServer.ManualMerge),

		unary("CherryPick", VersionControlServer.CherryPick),
		unary("RevertVersion", VersionControlServer.RevertVersion),

		unary("GetVersionLineage", VersionControlServer.GetVersionLineage),
		unary("GetChangeHistory", VersionControlServer.GetChangeHistory),
		unary("GetUserActivity", VersionControlServer.GetUserActivity),
		unary("GetBranchHistory", VersionControlServer.GetBranchHistory),

		unary("CreateTag", VersionControlServer.CreateTag),
		unary("ListTags", VersionControlServer.ListTags),
		unary("DeleteTag", VersionControlServer.DeleteTag),

		unary("CreateComment", VersionControlServer.CreateComment),
		unary("GetComments", VersionControlServer.GetComments),
		unary("UpdateComment", VersionControlServer.UpdateComment),
		unary("DeleteComment", VersionControlServer.DeleteComment),
		unary("ResolveComment", VersionControlServer.ResolveComment),

		unary("LockVersion", VersionControlServer.LockVersion),
		unary("UnlockVersion", VersionControlServer.UnlockVersion),
		unary("GetVersionLocks", VersionControlServer.GetVersionLocks),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "metavault/v1/version_control",
}

// Register 把 VersionControl 服务挂到 gRPC server 上
func Register(r grpc.ServiceRegistrar, srv VersionControlServer) {
	r.RegisterService(&ServiceDesc, srv)
}
