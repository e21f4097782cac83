package message

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestExampleSchema(t *testing.T) {
	svc := ExamplesServiceDescriptor()
	if got := string(svc.FullName()); got != ExamplesService {
		t.Fatalf("service name: got %s, want %s", got, ExamplesService)
	}
	unary := svc.Methods().ByName("SendExampleMessage")
	if unary == nil || unary.IsStreamingServer() || unary.IsStreamingClient() {
		t.Fatalf("SendExampleMessage must be unary, got %v", unary)
	}
	stream := svc.Methods().ByName("GetExampleMessages")
	if stream == nil || !stream.IsStreamingServer() {
		t.Fatalf("GetExampleMessages must be server streaming, got %v", stream)
	}
	if unary.Input().FullName() != "example.ExampleRequest" || unary.Output().FullName() != "example.ExampleResponse" {
		t.Fatalf("unexpected method types: %s -> %s", unary.Input().FullName(), unary.Output().FullName())
	}
}

func TestExampleRequestProtoConversion(t *testing.T) {
	req := &ExampleRequest{Message: "Hello World"}
	var back ExampleRequest
	if err := back.FromProto(req.ToProto().ProtoReflect()); err != nil {
		t.Fatal(err)
	}
	if back.Message != "Hello World" {
		t.Fatalf("got %q", back.Message)
	}

	var resp ExampleResponse
	if err := resp.FromProto(req.ToProto().ProtoReflect()); err == nil {
		t.Fatal("expected descriptor mismatch error")
	}
}

func TestMethodHelpers(t *testing.T) {
	if got := NormalizeMethod("example.Examples/SendExampleMessage"); got != SendExampleMessageMethod {
		t.Fatalf("NormalizeMethod: got %s", got)
	}
	if got := NormalizeMethod("//example.Examples/SendExampleMessage"); got != SendExampleMessageMethod {
		t.Fatalf("NormalizeMethod: got %s", got)
	}
	if got := ServiceOf(GetExampleMessagesMethod); got != ExamplesService {
		t.Fatalf("ServiceOf: got %s", got)
	}
}

func TestMetadataFlattening(t *testing.T) {
	md := metadata.MD{
		":status":      []string{"200"},
		"x-tag":        []string{"a", "b"},
		"trace-bin":    []string{"\x01\x02"},
		"content-type": []string{"application/grpc"},
	}
	flat := FlattenMetadata(md)
	want := map[string]string{
		"x-tag":        "a,b",
		"trace-bin":    "AQI=",
		"content-type": "application/grpc",
	}
	if diff := cmp.Diff(want, flat); diff != "" {
		t.Fatalf("FlattenMetadata mismatch (-want +got):\n%s", diff)
	}

	back := ExpandMetadata(map[string]string{"X-Tag": "a", "trace-bin": "AQI="})
	if diff := cmp.Diff(metadata.MD{"x-tag": {"a"}, "trace-bin": {"\x01\x02"}}, back); diff != "" {
		t.Fatalf("ExpandMetadata mismatch (-want +got):\n%s", diff)
	}
}

func TestEventErr(t *testing.T) {
	ev := Event{ID: 1, Type: EventError, Error: "Cancelled by app", Code: codes.Canceled}
	if !ev.Terminal() {
		t.Fatal("error event must be terminal")
	}
	if status.Code(ev.Err()) != codes.Canceled {
		t.Fatalf("got %v", ev.Err())
	}
	if (Event{Type: EventResponse}).Err() != nil {
		t.Fatal("response event carries no error")
	}
}
