package codec

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/coachpo/marketwire/errs"
	"github.com/coachpo/marketwire/internal/schema"
)

func TestDecodeMalformedFrameReturnsTypedError(t *testing.T) {
	for _, raw := range []string{"", "   ", "{not json", `["array","frame"]`} {
		_, err := Decode([]byte(raw))
		if err == nil {
			t.Fatalf("expected decode error for %q", raw)
		}
		if !errs.HasCode(err, errs.CodeDecode) {
			t.Fatalf("expected decode code for %q, got %v", raw, err)
		}
	}
}

func TestDecodeUnknownFrameIsRoutedNotRejected(t *testing.T) {
	env, err := Decode([]byte(`{"data":[{"foo":1}],"timestamp":"2026-08-30T12:00:00Z"}`))
	if err != nil {
		t.Fatalf("frame without channel or method must not error: %v", err)
	}
	if env.Key != "unknown" || env.Event != schema.EventTypeUnknown {
		t.Fatalf("expected unknown classification, got key=%q event=%q", env.Key, env.Event)
	}
}

func TestDecodeSubscribeAckWithoutChannelIsControl(t *testing.T) {
	raw := `{"method":"subscribe","success":true,"result":{"channel":"ticker","symbol":"BTC/USD"},"req_id":42}`
	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != schema.EventTypeSubscriptionSuccess {
		t.Fatalf("subscribe ack misclassified as %q", env.Event)
	}
	if env.Key != MethodSubscribe {
		t.Fatalf("expected method dispatch key, got %q", env.Key)
	}
	if env.Channel != "ticker" {
		t.Fatalf("expected channel extracted from result, got %q", env.Channel)
	}
	if env.ReqID != "42" {
		t.Fatalf("expected req_id normalized to string, got %q", env.ReqID)
	}
}

func TestDecodeSubscribeRejection(t *testing.T) {
	raw := `{"method":"subscribe","success":false,"error":"Currency pair not supported","result":{"channel":"book"}}`
	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != schema.EventTypeSubscriptionError {
		t.Fatalf("expected subscription error event, got %q", env.Event)
	}
	if env.ErrorMsg != "Currency pair not supported" {
		t.Fatalf("unexpected error message %q", env.ErrorMsg)
	}
}

func TestDecodeTickerWithSequence(t *testing.T) {
	raw := `{"channel":"ticker","type":"update","sequence":7,"timestamp":"2026-08-30T12:00:00.5Z",
		"data":[{"symbol":"BTC/USD","last":"65000.1","bid":64999.9,"ask":"65000.4","volume":"123.45"},
		        {"last":"1.0"},
		        {"symbol":"ETH/USD","last":"3100"}]}`
	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != schema.EventTypeTicker || env.Key != schema.ChannelTicker {
		t.Fatalf("unexpected classification: %q/%q", env.Event, env.Key)
	}
	if !env.HasSequence || env.Sequence != 7 {
		t.Fatalf("sequence not extracted: %v %d", env.HasSequence, env.Sequence)
	}
	if len(env.Payloads) != 2 {
		t.Fatalf("element without symbol must be skipped, got %d payloads", len(env.Payloads))
	}
	ticker, ok := env.Payloads[0].(schema.TickerPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", env.Payloads[0])
	}
	if !ticker.Last.Equal(decimal.RequireFromString("65000.1")) {
		t.Fatalf("last price decoded wrong: %s", ticker.Last)
	}
	if !ticker.Bid.Equal(decimal.RequireFromString("64999.9")) {
		t.Fatalf("unquoted numerics must decode with decimal semantics: %s", ticker.Bid)
	}
	if !ticker.BidQty.IsZero() {
		t.Fatalf("missing numeric fields must default to zero, got %s", ticker.BidQty)
	}
}

func TestDecodeBookEnforcesInvariants(t *testing.T) {
	raw := `{"channel":"book","type":"snapshot","data":[{"symbol":"BTC/USD",
		"bids":[{"price":"100","qty":"1"},{"price":"0","qty":"5"},{"price":"101","qty":"2"}],
		"asks":[{"price":"103","qty":"1"},{"price":"102","qty":"-2"},{"price":"101.5","qty":"4"}],
		"checksum":123456}]}`
	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Payloads) != 1 {
		t.Fatalf("expected one book payload, got %d", len(env.Payloads))
	}
	book := env.Payloads[0].(schema.BookPayload)
	if !book.Snapshot {
		t.Fatal("type=snapshot must mark the payload as a snapshot")
	}
	if len(book.Bids) != 2 || len(book.Asks) != 2 {
		t.Fatalf("non-positive levels must be filtered: %d bids, %d asks", len(book.Bids), len(book.Asks))
	}
	bestBid, _ := book.BestBid()
	bestAsk, _ := book.BestAsk()
	if !bestBid.Price.Equal(decimal.RequireFromString("101")) {
		t.Fatalf("bids must sort descending, best=%s", bestBid.Price)
	}
	if !bestAsk.Price.Equal(decimal.RequireFromString("101.5")) {
		t.Fatalf("asks must sort ascending, best=%s", bestAsk.Price)
	}
}

func TestDecodeExecutionSkipsElementsWithoutOrderID(t *testing.T) {
	raw := `{"channel":"executions","sequence":3,"data":[
		{"order_id":"OID-1","exec_type":"trade","order_status":"partially_filled",
		 "cum_qty":"0.5","avg_price":"64000","fee_usd_equiv":"1.2"},
		{"exec_type":"trade"}]}`
	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != schema.EventTypeOrderUpdate {
		t.Fatalf("unexpected event %q", env.Event)
	}
	if len(env.Payloads) != 1 {
		t.Fatalf("expected the element without order_id skipped, got %d", len(env.Payloads))
	}
	exec := env.Payloads[0].(schema.ExecutionPayload)
	if exec.Status != schema.OrderStatusPartial {
		t.Fatalf("unexpected status %q", exec.Status)
	}
	if !exec.CumQty.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("cum qty decoded wrong: %s", exec.CumQty)
	}
}

func TestDecodeHeartbeatAndStatus(t *testing.T) {
	env, err := Decode([]byte(`{"channel":"heartbeat"}`))
	if err != nil {
		t.Fatalf("decode heartbeat: %v", err)
	}
	if env.Event != schema.EventTypeHeartbeat {
		t.Fatalf("unexpected event %q", env.Event)
	}

	env, err = Decode([]byte(`{"channel":"status","data":[{"system":"online","api_version":"v2","connection_id":987}]}`))
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if env.Event != schema.EventTypeStatus || len(env.Payloads) != 1 {
		t.Fatalf("unexpected status classification: %q payloads=%d", env.Event, len(env.Payloads))
	}
	status := env.Payloads[0].(schema.StatusPayload)
	if status.System != "online" || status.ConnectionID != "987" {
		t.Fatalf("unexpected status payload %+v", status)
	}
}

func TestDecodeUnrecognizedChannelStaysUnknown(t *testing.T) {
	env, err := Decode([]byte(`{"channel":"lending_rates","data":[{"rate":"0.01"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != schema.EventTypeUnknown {
		t.Fatalf("unexpected event %q", env.Event)
	}
	if env.Key != "lending_rates" {
		t.Fatalf("dispatch key must keep the channel name, got %q", env.Key)
	}
}
