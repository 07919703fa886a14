package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/ValentinKolb/dLock/rpc/serializer"
	"github.com/ValentinKolb/dLock/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation if an RPC client
// Used by the RPCStore and RPCLockMgr with composition pattern
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

func newClientAdapter(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (rpcClientAdapter, error) {
	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return rpcClientAdapter{}, err
	}
	Logger.Debugf("RPC client for shard %d connected", shardId)
	return rpcClientAdapter{
		shardId:    shardId,
		config:     config,
		transport:  transport,
		serializer: serializer,
	}, nil
}

// invoke sends a request and waits for the response.
//
// A request that could not be delivered fails with a store error of code RetCUnavailable.
// If the server answered with an error, the decoded response is returned together with the
// rebuilt error, so that partial results (e.g. counts) are not lost.
func (c *rpcClientAdapter) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := c.serializer.Serialize(*req)
	if err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("rpc: serialize %s: %v", req.MsgType, err))
	}

	// Send the request
	respBytes, err := c.transport.Send(ctx, c.shardId, reqBytes)
	if err != nil {
		return nil, store.NewError(store.RetCUnavailable, fmt.Sprintf("rpc: send %s to shard %d: %v", req.MsgType, c.shardId, err))
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := c.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("rpc: deserialize %s response: %v", req.MsgType, err))
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError {
		return nil, resp.Error()
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, store.NewError(store.RetCInternalError,
			fmt.Sprintf("rpc: unexpected message type %s, expected %s", resp.MsgType, req.MsgType))
	}

	return resp, resp.Error()
}
