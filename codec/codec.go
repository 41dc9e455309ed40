// Package codec implements the wire payload (de)serializer for the
// uni-client/uni-worker RPC runtime: a small Codec type with Pack/Unpack
// methods wrapping MessagePack (github.com/vmihailenco/msgpack/v5). The
// payload is a single application value (args, kwargs, or a reply), not
// an envelope, and the wire format is fixed to MessagePack rather than
// pluggable per call.
//
// On top of plain MessagePack, Pack/Unpack implement a self-describing
// extension scheme: values MessagePack can't represent natively
// (time.Time, time.Duration, and exception values) are expanded into a
// map tagged with a "__type__" string key before encoding, and
// reconstructed from that tag on the way back.
package codec

import (
	"fmt"
	"log"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xero-rpc/uniproto/message"
	"github.com/xero-rpc/uniproto/xeroerr"
)

// Codec packs and unpacks application payloads for the wire. It holds no
// state and is safe for concurrent use.
type Codec struct{}

// New returns a ready-to-use Codec.
func New() *Codec {
	return &Codec{}
}

// Pack serializes v into wire bytes, expanding any extension values into
// tagged maps first.
func (c *Codec) Pack(v any) ([]byte, error) {
	return msgpack.Marshal(encodeValue(v))
}

// Unpack deserializes wire bytes into a native Go value, reconstructing
// any "__type__"-tagged extension values along the way. It returns a
// *xeroerr.CodecError if a mapping carries an unrecognized "__type__" tag.
func (c *Codec) Unpack(data []byte) (any, error) {
	var raw any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return decodeValue(raw)
}

func encodeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return map[string]any{
			"__type__":    "datetime",
			"year":        t.Year(),
			"month":       int(t.Month()),
			"day":         t.Day(),
			"hour":        t.Hour(),
			"minute":      t.Minute(),
			"second":      t.Second(),
			"microsecond": t.Nanosecond() / 1000,
		}
	case time.Duration:
		days, secs, micros := splitDuration(t)
		return map[string]any{
			"__type__":     "timedelta",
			"days":         days,
			"seconds":      secs,
			"microseconds": micros,
		}
	case message.RemoteException:
		return exceptionMap(t.Class, t.Message, t.Traceback)
	case *message.RemoteException:
		return exceptionMap(t.Class, t.Message, t.Traceback)
	case error:
		return exceptionMap(fmt.Sprintf("%T", t), t.Error(), t.Error())
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = encodeValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = encodeValue(vv)
		}
		return out
	default:
		if !isNativeScalar(v) {
			log.Printf("codec: don't know how to encode value of type %T, passing through as-is", v)
		}
		return v
	}
}

func exceptionMap(class, msg, traceback string) map[string]any {
	return map[string]any{
		"__type__":  "exception",
		"class":     class,
		"message":   msg,
		"traceback": traceback,
	}
}

func isNativeScalar(v any) bool {
	switch v.(type) {
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, string, []byte:
		return true
	default:
		return false
	}
}

func decodeValue(raw any) (any, error) {
	switch t := raw.(type) {
	case map[string]any:
		if tagged, ok := t["__type__"]; ok {
			tag, _ := tagged.(string)
			return decodeTagged(tag, t)
		}
		out := make(map[string]any, len(t))
		for k, v := range t {
			dv, err := decodeValue(v)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			dv, err := decodeValue(v)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		return raw, nil
	}
}

func decodeTagged(tag string, fields map[string]any) (any, error) {
	switch tag {
	case "datetime":
		return decodeDatetime(fields)
	case "timedelta":
		return decodeTimedelta(fields)
	case "exception":
		return decodeException(fields), nil
	default:
		return nil, &xeroerr.CodecError{Tag: tag}
	}
}

func decodeDatetime(f map[string]any) (time.Time, error) {
	fields := []string{"year", "month", "day", "hour", "minute", "second", "microsecond"}
	vals := make([]int, len(fields))
	for i, k := range fields {
		n, err := toInt(f[k])
		if err != nil {
			return time.Time{}, fmt.Errorf("codec: datetime field %q: %w", k, err)
		}
		vals[i] = n
	}
	return time.Date(vals[0], time.Month(vals[1]), vals[2], vals[3], vals[4], vals[5], vals[6]*1000, time.UTC), nil
}

func decodeTimedelta(f map[string]any) (time.Duration, error) {
	days, err := toInt(f["days"])
	if err != nil {
		return 0, fmt.Errorf("codec: timedelta field %q: %w", "days", err)
	}
	secs, err := toInt(f["seconds"])
	if err != nil {
		return 0, fmt.Errorf("codec: timedelta field %q: %w", "seconds", err)
	}
	micros, err := toInt(f["microseconds"])
	if err != nil {
		return 0, fmt.Errorf("codec: timedelta field %q: %w", "microseconds", err)
	}
	total := time.Duration(days) * 24 * time.Hour
	total += time.Duration(secs) * time.Second
	total += time.Duration(micros) * time.Microsecond
	return total, nil
}

func decodeException(f map[string]any) message.RemoteException {
	get := func(k string) string {
		s, _ := f[k].(string)
		return s
	}
	return message.RemoteException{
		Class:     get("class"),
		Message:   get("message"),
		Traceback: get("traceback"),
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected numeric field, got %T", v)
	}
}

// splitDuration breaks d into Python timedelta's normalized (days, seconds,
// microseconds) form: seconds in [0, 86400) and microseconds in [0, 1e6),
// matching xero_serialization.py's timedelta wire representation.
func splitDuration(d time.Duration) (days, seconds, micros int) {
	total := d.Microseconds()
	const usPerDay = int64(24 * time.Hour / time.Microsecond)
	dayCount := floorDiv(total, usPerDay)
	remainder := total - dayCount*usPerDay
	return int(dayCount), int(remainder / 1_000_000), int(remainder % 1_000_000)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
