package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "crossbook.Exchange"

// Method names. Every request and response is a google.protobuf.Struct.
const (
	MethodMarketOrder  = "MarketOrder"
	MethodLimitOrder   = "LimitOrder"
	MethodStopOrder    = "StopOrder"
	MethodCancelOrder  = "CancelOrder"
	MethodListOrders   = "ListOrders"
	MethodPriceHistory = "PriceHistory"
	MethodTradeHistory = "TradeHistory"
	MethodDepth        = "Depth"
)

// ExchangeServer is the server API for the crossbook.Exchange service.
type ExchangeServer interface {
	MarketOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LimitOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PriceHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TradeHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Depth(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(ExchangeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExchangeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExchangeServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes crossbook.Exchange for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(MethodMarketOrder, ExchangeServer.MarketOrder),
		unaryHandler(MethodLimitOrder, ExchangeServer.LimitOrder),
		unaryHandler(MethodStopOrder, ExchangeServer.StopOrder),
		unaryHandler(MethodCancelOrder, ExchangeServer.CancelOrder),
		unaryHandler(MethodListOrders, ExchangeServer.ListOrders),
		unaryHandler(MethodPriceHistory, ExchangeServer.PriceHistory),
		unaryHandler(MethodTradeHistory, ExchangeServer.TradeHistory),
		unaryHandler(MethodDepth, ExchangeServer.Depth),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crossbook/exchange",
}

func RegisterExchangeServer(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// -------------------- Client --------------------

// Client calls crossbook.Exchange with plain maps as arguments.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Call(ctx context.Context, method string, args map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarketOrder(ctx context.Context, owner string, side, size int) (*structpb.Struct, error) {
	return c.Call(ctx, MethodMarketOrder, map[string]any{"owner": owner, "side": side, "size": size})
}

func (c *Client) LimitOrder(ctx context.Context, owner string, side, size, price int) (*structpb.Struct, error) {
	return c.Call(ctx, MethodLimitOrder, map[string]any{"owner": owner, "side": side, "size": size, "price": price})
}

func (c *Client) StopOrder(ctx context.Context, owner string, side, size, trigger int) (*structpb.Struct, error) {
	return c.Call(ctx, MethodStopOrder, map[string]any{"owner": owner, "side": side, "size": size, "price": trigger})
}

func (c *Client) CancelOrder(ctx context.Context, owner string, id int) (*structpb.Struct, error) {
	return c.Call(ctx, MethodCancelOrder, map[string]any{"owner": owner, "order_id": id})
}

func (c *Client) ListOrders(ctx context.Context, owner string) (*structpb.Struct, error) {
	return c.Call(ctx, MethodListOrders, map[string]any{"owner": owner})
}

func (c *Client) PriceHistory(ctx context.Context, month int) (*structpb.Struct, error) {
	return c.Call(ctx, MethodPriceHistory, map[string]any{"month": month})
}

func (c *Client) TradeHistory(ctx context.Context, year, month int) (*structpb.Struct, error) {
	return c.Call(ctx, MethodTradeHistory, map[string]any{"year": year, "month": month})
}

func (c *Client) Depth(ctx context.Context, levels int) (*structpb.Struct, error) {
	return c.Call(ctx, MethodDepth, map[string]any{"levels": levels})
}
