package filestore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cms-dev/cms/internal/domain"
	"github.com/cms-dev/cms/internal/rpc"
)

// Method names on the File Store service's registry.
const (
	MethodPutFile       = "put_file"
	MethodGetFile       = "get_file"
	MethodDelete        = "delete"
	MethodIsFilePresent = "is_file_present"
	MethodDescribe      = "describe"
)

type putFileArg struct {
	Description string `json:"description"`
}

type getFileArg struct {
	Digest string `json:"digest"`
	Start  int64  `json:"start"`
}

type deleteArg struct {
	Digest string `json:"digest"`
}

type deleteResp struct {
	Existed bool `json:"existed"`
}

type presentArg struct {
	Digest string `json:"digest"`
}

type presentResp struct {
	Present bool `json:"present"`
}

type describeArg struct {
	Digest string `json:"digest"`
}

type describeResp struct {
	Description string `json:"description"`
}

type putFileResp struct {
	Digest string `json:"digest"`
}

type getFileChunk struct {
	Offset int64 `json:"offset"`
}

// Register wires store's operations onto reg under the method names
// above. put_file and get_file carry binary payloads; get_file streams
// ChunkSize-sized pieces via the Stream calling convention so large test
// data doesn't have to fit in one frame.
func Register(reg *rpc.Registry, store *Store) {
	reg.Register(MethodPutFile, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg putFileArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		digest, err := store.PutFile(c.Ctx, c.Binary, arg.Description)
		if err != nil {
			return nil, nil, rpc.Classify(classOf(err), err)
		}
		return putFileResp{Digest: digest}, nil, nil
	}, rpc.Threaded())

	reg.Register(MethodGetFile, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg getFileArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		offset := arg.Start
		for {
			data, err := store.GetFile(c.Ctx, arg.Digest, offset, ChunkSize)
			if err != nil {
				return nil, nil, rpc.Classify(classOf(err), err)
			}
			if len(data) == 0 {
				return nil, nil, nil
			}
			if err := c.Emit(getFileChunk{Offset: offset}, data); err != nil {
				return nil, nil, err
			}
			offset += int64(len(data))
			if int64(len(data)) < ChunkSize {
				return nil, nil, nil
			}
		}
	}, rpc.Threaded(), rpc.Binary(), rpc.Stream())

	reg.Register(MethodDelete, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg deleteArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		existed, err := store.Delete(c.Ctx, arg.Digest)
		if err != nil {
			return nil, nil, rpc.Classify(classOf(err), err)
		}
		return deleteResp{Existed: existed}, nil, nil
	}, rpc.Threaded())

	reg.Register(MethodIsFilePresent, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg presentArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		present, err := store.IsFilePresent(c.Ctx, arg.Digest)
		if err != nil {
			return nil, nil, rpc.Classify(classOf(err), err)
		}
		return presentResp{Present: present}, nil, nil
	})

	reg.Register(MethodDescribe, func(c *rpc.CallCtx) (any, []byte, error) {
		var arg describeArg
		if err := c.BindJSON(&arg); err != nil {
			return nil, nil, err
		}
		desc, err := store.Describe(c.Ctx, arg.Digest)
		if err != nil {
			return nil, nil, rpc.Classify(classOf(err), err)
		}
		return describeResp{Description: desc}, nil, nil
	})
}

func classOf(err error) string {
	switch {
	case err == nil:
		return ""
	case domainIs(err, domain.ErrNotFound):
		return "NotFound"
	case domainIs(err, domain.ErrInvalidArgument):
		return "InvalidArgument"
	default:
		return "Internal"
	}
}

func domainIs(err, target error) bool {
	for e := err; e != nil; {
		if e == target {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

// RemoteStore implements domain.FileStore against a remote File Store
// service over an internal/rpc.Peer, the client half of component B.
type RemoteStore struct {
	peer *rpc.Peer
}

// NewRemoteStore wraps peer (already connected to a File Store shard).
func NewRemoteStore(peer *rpc.Peer) *RemoteStore {
	return &RemoteStore{peer: peer}
}

func (r *RemoteStore) PutFile(ctx domain.Context, content []byte, description string) (string, error) {
	var resp putFileResp
	if err := r.peer.CallSyncBinary(ctx, MethodPutFile, putFileArg{Description: description}, content, &resp); err != nil {
		return "", fmt.Errorf("op=filestore.remote.put: %w", err)
	}
	return resp.Digest, nil
}

func (r *RemoteStore) GetFile(ctx context.Context, digest string, start int64, chunkSize int64) ([]byte, error) {
	var out []byte
	err := r.peer.CallSeq(ctx, MethodGetFile, getFileArg{Digest: digest, Start: start}, func(seq *rpc.Sequencer) error {
		for {
			data, bin, ok, err := seq.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			var chunk getFileChunk
			if len(data) > 0 {
				_ = json.Unmarshal(data, &chunk)
			}
			out = append(out, bin...)
			if chunkSize > 0 && int64(len(out)) >= chunkSize {
				return nil
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("op=filestore.remote.get: %w", err)
	}
	if chunkSize > 0 && int64(len(out)) > chunkSize {
		out = out[:chunkSize]
	}
	return out, nil
}

func (r *RemoteStore) Delete(ctx domain.Context, digest string) (bool, error) {
	var resp deleteResp
	if err := r.peer.CallSync(ctx, MethodDelete, deleteArg{Digest: digest}, &resp); err != nil {
		return false, fmt.Errorf("op=filestore.remote.delete: %w", err)
	}
	return resp.Existed, nil
}

func (r *RemoteStore) IsFilePresent(ctx domain.Context, digest string) (bool, error) {
	var resp presentResp
	if err := r.peer.CallSync(ctx, MethodIsFilePresent, presentArg{Digest: digest}, &resp); err != nil {
		return false, fmt.Errorf("op=filestore.remote.present: %w", err)
	}
	return resp.Present, nil
}

func (r *RemoteStore) Describe(ctx domain.Context, digest string) (string, error) {
	var resp describeResp
	if err := r.peer.CallSync(ctx, MethodDescribe, describeArg{Digest: digest}, &resp); err != nil {
		return "", fmt.Errorf("op=filestore.remote.describe: %w", err)
	}
	return resp.Description, nil
}

var _ domain.FileStore = (*RemoteStore)(nil)
