package service

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName 是客户端需要声明的 content-subtype
const CodecName = "json"

// jsonCodec 让 gRPC 直接传输 JSON 消息，文档本身就是 JSON
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
