package core

import "metavault/pkg/types"

// ObjectType 定义了 MetaVault 中的对象类型
type ObjectType string

const (
	TypeSnapshot ObjectType = "snapshot" // 文档快照 (树形元数据)
	TypeVersion  ObjectType = "version"  // 版本节点 (DAG 顶点)
)

// Object 是所有内容寻址对象的通用接口
type Object interface {
	// Type 返回对象类型
	Type() ObjectType

	// ID 返回对象的哈希值 (CID)
	// 注意：在对象被密封(Seal/Serialize)之前，这可能为空
	ID() types.Hash

	// Bytes 返回对象的序列化数据 (用于存储)
	Bytes() []byte
}
