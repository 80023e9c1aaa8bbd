package contract

import (
	"context"
	"io"
)

// ArtifactID: 结果工件的持久化标识（写入介质内的相对名）。
type ArtifactID string

// Writer: 将序列化结果以流式方式持久化到目标介质。
// 约束：
//  1. 同一 ArtifactID 单写者（流水线保证仅指定 rank 调用）；
//  2. 流式写入，按字节透传，不读取/修改业务内容；
//  3. 目标已存在时整体替换（截断语义）；
//  4. ctx 取消/超时需尽快返回；错误直接上抛，不做重试。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
