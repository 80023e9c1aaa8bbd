package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"denshist/pkg/contract"
	lcom "denshist/plugins/comm/local"
	rcom "denshist/plugins/comm/rpc"
	f32 "denshist/plugins/loader/float32le"
	wfs "denshist/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewLoader 工厂签名：接收原样 JSON Options。
type NewLoader func(raw json.RawMessage) (contract.Loader, error)

// NewComm 工厂签名：通信器还需 rank 与 world。
type NewComm func(raw json.RawMessage, rank, world int) (contract.Communicator, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Loader 工厂注册表（显式、零反射）。
var Loader = map[string]NewLoader{
	// binary: 小端 float32 平铺文件
	"binary": func(raw json.RawMessage) (contract.Loader, error) {
		var opts f32.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return f32.New(&opts), nil
	},
}

// Comm 工厂注册表。
var Comm = map[string]NewComm{
	// rpc: 跨进程集合通信（rank 0 承载协调者）
	"rpc": func(raw json.RawMessage, rank, world int) (contract.Communicator, error) {
		var opts rcom.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rcom.New(&opts, rank, world)
	},
	// local: 进程内通信，仅限单 rank 运行
	"local": func(raw json.RawMessage, rank, world int) (contract.Communicator, error) {
		if err := strictUnmarshal(raw, &struct{}{}); err != nil {
			return nil, err
		}
		if world != 1 || rank != 0 {
			return nil, fmt.Errorf("%w: local comm requires world 1, got rank %d world %d", contract.ErrInvariantViolation, rank, world)
		}
		return lcom.Single(), nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（原子替换）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
