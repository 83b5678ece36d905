package grpcserver

import (
	"context"
	"math"
	"time"

	"crossbook/domain/history"
	"crossbook/domain/orderbook"
	"crossbook/service"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DepthSource is the read side of the book used by Depth.
type DepthSource interface {
	Depth(side orderbook.Side, limit int) []orderbook.Level
	LastPrice() int64
}

// Server adapts the OrderManager to gRPC.
type Server struct {
	mgr  *service.OrderManager
	book DepthSource
}

var _ ExchangeServer = (*Server)(nil)

func NewServer(mgr *service.OrderManager, book DepthSource) *Server {
	return &Server{mgr: mgr, book: book}
}

// -------------------- Commands --------------------

func (s *Server) MarketOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	owner, side, size := f.str("owner"), f.num("side"), f.num("size")
	if err := f.err(); err != nil {
		return nil, err
	}

	id, err := s.mgr.PlaceMarketOrder(side, size, owner)
	if err != nil {
		return result(service.CodeError, map[string]any{"order_id": int64(id), "error": err.Error()})
	}
	return result(service.CodeOK, map[string]any{"order_id": int64(id)})
}

func (s *Server) LimitOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	owner, side, size, price := f.str("owner"), f.num("side"), f.num("size"), f.num("price")
	if err := f.err(); err != nil {
		return nil, err
	}

	p, err := s.mgr.PlaceLimitOrder(owner, side, size, price)
	if err != nil {
		return result(service.CodeError, map[string]any{"error": err.Error()})
	}
	return result(service.CodeOK, map[string]any{"order_id": int64(p.ID), "rested": p.Rested})
}

func (s *Server) StopOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	owner, side, size, trigger := f.str("owner"), f.num("side"), f.num("size"), f.num("price")
	if err := f.err(); err != nil {
		return nil, err
	}

	id, err := s.mgr.PlaceStopOrder(owner, side, size, trigger)
	if err != nil {
		return result(service.CodeError, map[string]any{"error": err.Error()})
	}
	return result(service.CodeOK, map[string]any{"order_id": int64(id)})
}

func (s *Server) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	owner, id := f.str("owner"), f.num("order_id")
	if err := f.err(); err != nil {
		return nil, err
	}

	if err := s.mgr.Cancel(owner, id); err != nil {
		return result(service.CodeError, map[string]any{"error": err.Error()})
	}
	return result(service.CodeOK, nil)
}

// -------------------- Queries --------------------

func (s *Server) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	owner := f.str("owner")
	if err := f.err(); err != nil {
		return nil, err
	}

	ids := s.mgr.Orders(owner)
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, int64(id))
	}
	return result(service.CodeOK, map[string]any{"order_ids": list})
}

func (s *Server) PriceHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	month := f.num("month")
	if err := f.err(); err != nil {
		return nil, err
	}

	candles, err := s.mgr.PriceHistory(month)
	if err != nil {
		return nil, toStatus(err)
	}
	days := make([]any, 0, len(candles))
	for _, c := range candles {
		days = append(days, map[string]any{
			"date":   c.Date.Format(time.DateOnly),
			"open":   c.Open,
			"close":  c.Close,
			"high":   c.High,
			"low":    c.Low,
			"volume": c.Volume,
			"trades": c.Trades,
			"vwap":   c.VWAP.StringFixed(2),
		})
	}
	return result(service.CodeOK, map[string]any{"days": days})
}

func (s *Server) TradeHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	year, month := f.num("year"), f.num("month")
	if err := f.err(); err != nil {
		return nil, err
	}

	trades, err := s.mgr.TradeHistory(year, month)
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(trades))
	for _, t := range trades {
		list = append(list, map[string]any{
			"order_id": int64(t.TakerOrderID),
			"buyer":    t.Buyer,
			"seller":   t.Seller,
			"size":     t.Size,
			"price":    t.Price,
			"ts":       t.Timestamp,
			"kind":     t.Kind.String(),
		})
	}
	return result(service.CodeOK, map[string]any{"trades": list})
}

func (s *Server) Depth(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := newFields(req)
	levels := f.optNum("levels", 0)
	if err := f.err(); err != nil {
		return nil, err
	}

	return result(service.CodeOK, map[string]any{
		"bids":       levelList(s.book.Depth(orderbook.Bid, levels)),
		"asks":       levelList(s.book.Depth(orderbook.Ask, levels)),
		"last_price": s.book.LastPrice(),
	})
}

// -------------------- Interceptor --------------------

// UnaryLogger logs each call with its duration and status code.
func UnaryLogger(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		entry := log.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		})
		if out, ok := resp.(*structpb.Struct); ok {
			if c, ok := out.GetFields()["code"]; ok {
				entry = entry.WithField("status", int(c.GetNumberValue()))
			}
		}
		if err != nil {
			entry.WithError(err).Warn("[gRPC] call failed")
		} else {
			entry.Debug("[gRPC] call")
		}
		return resp, err
	}
}

// -------------------- Converters --------------------

func result(code int, extra map[string]any) (*structpb.Struct, error) {
	m := map[string]any{"code": code}
	for k, v := range extra {
		m[k] = v
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func levelList(levels []orderbook.Level) []any {
	out := make([]any, 0, len(levels))
	for _, l := range levels {
		out = append(out, map[string]any{"price": l.Price, "size": l.Size, "orders": l.Orders})
	}
	return out
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, history.ErrInvalidMonth), errors.Is(err, orderbook.ErrInvalidOrder):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, orderbook.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fields reads typed values out of a request, keeping the first problem.
type fields struct {
	s     *structpb.Struct
	first error
}

func newFields(s *structpb.Struct) *fields {
	return &fields{s: s}
}

func (f *fields) fail(format string, args ...any) {
	if f.first == nil {
		f.first = status.Errorf(codes.InvalidArgument, format, args...)
	}
}

func (f *fields) err() error { return f.first }

func (f *fields) str(name string) string {
	v, ok := f.s.GetFields()[name]
	if !ok {
		f.fail("missing field %q", name)
		return ""
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		f.fail("field %q must be a string", name)
		return ""
	}
	return sv.StringValue
}

func (f *fields) num(name string) int {
	v, ok := f.s.GetFields()[name]
	if !ok {
		f.fail("missing field %q", name)
		return 0
	}
	return f.integer(name, v)
}

func (f *fields) optNum(name string, def int) int {
	v, ok := f.s.GetFields()[name]
	if !ok {
		return def
	}
	return f.integer(name, v)
}

func (f *fields) integer(name string, v *structpb.Value) int {
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		f.fail("field %q must be a number", name)
		return 0
	}
	n := nv.NumberValue
	if n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		f.fail("field %q must be an integer, got %v", name, n)
		return 0
	}
	return int(n)
}
