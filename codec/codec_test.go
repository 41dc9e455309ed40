package codec

import (
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xero-rpc/uniproto/message"
	"github.com/xero-rpc/uniproto/xeroerr"
)

func TestPackUnpackScalarsAndContainers(t *testing.T) {
	c := New()
	in := map[string]any{
		"name":  "add",
		"count": 3,
		"args":  []any{1, 2, "three"},
	}
	data, err := c.Pack(in)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	out, err := c.Unpack(data)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("out is %T, want map[string]any", out)
	}
	if m["name"] != "add" {
		t.Errorf("name = %v", m["name"])
	}
	args, ok := m["args"].([]any)
	if !ok || len(args) != 3 {
		t.Fatalf("args = %v", m["args"])
	}
}

func TestPackUnpackTime(t *testing.T) {
	c := New()
	in := time.Date(2026, time.March, 5, 9, 30, 15, 123000, time.UTC)
	data, err := c.Pack(in)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	out, err := c.Unpack(data)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	got, ok := out.(time.Time)
	if !ok {
		t.Fatalf("out is %T, want time.Time", out)
	}
	if !got.Equal(in) {
		t.Errorf("got %v, want %v", got, in)
	}
}

func TestPackUnpackDuration(t *testing.T) {
	c := New()
	in := 90*time.Hour + 30*time.Second + 250*time.Microsecond
	data, err := c.Pack(in)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	out, err := c.Unpack(data)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	got, ok := out.(time.Duration)
	if !ok {
		t.Fatalf("out is %T, want time.Duration", out)
	}
	if got != in {
		t.Errorf("got %v, want %v", got, in)
	}
}

func TestPackUnpackNegativeDuration(t *testing.T) {
	c := New()
	in := -90 * time.Minute
	data, err := c.Pack(in)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	out, err := c.Unpack(data)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if got := out.(time.Duration); got != in {
		t.Errorf("got %v, want %v", got, in)
	}
}

func TestPackUnpackException(t *testing.T) {
	c := New()
	in := message.RemoteException{Class: "ValueError", Message: "bad input", Traceback: "line 1"}
	data, err := c.Pack(in)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	out, err := c.Unpack(data)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	got, ok := out.(message.RemoteException)
	if !ok {
		t.Fatalf("out is %T, want message.RemoteException", out)
	}
	if got != in {
		t.Errorf("got %+v, want %+v", got, in)
	}
}

func TestUnpackUnknownTypeTag(t *testing.T) {
	c := New()
	data, err := msgpack.Marshal(map[string]any{"__type__": "set", "values": []any{1, 2}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	_, err = c.Unpack(data)
	if err == nil {
		t.Fatal("expected error for unknown __type__ tag")
	}
	codecErr, ok := err.(*xeroerr.CodecError)
	if !ok {
		t.Fatalf("error is %T, want *xeroerr.CodecError", err)
	}
	if codecErr.Tag != "set" {
		t.Errorf("Tag = %q", codecErr.Tag)
	}
}

func TestPackUnrecognizedTypePassesThrough(t *testing.T) {
	c := New()
	type customStruct struct{ X int }
	data, err := c.Pack(customStruct{X: 1})
	if err != nil {
		t.Fatalf("Pack unexpectedly failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty packed output")
	}
}
