package authres

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/domainkey/dkim"
)

// Entry is the outcome of one DKIM-Signature, flattened for transport.
type Entry struct {
	Status    string `msg:"status"`
	Domain    string `msg:"domain"`
	Selector  string `msg:"selector"`
	Identity  string `msg:"identity"`
	Algorithm string `msg:"algorithm"`
	Reason    string `msg:"reason"`
	Testing   bool   `msg:"testing"`
	Authentic bool   `msg:"authentic"`
}

// Report is the verification outcome of one message.
type Report struct {
	// ID uniquely identifies the verification run (a ULID).
	ID string `msg:"id"`

	// Hostname is the authserv-id of the verifying host.
	Hostname string `msg:"hostname"`

	// Created is when the report was made.
	Created time.Time `msg:"created"`

	// Status is the overall result, see Summary.
	Status string `msg:"status"`

	Entries []Entry `msg:"entries"`
}

var (
	_ msgp.Marshaler   = (*Report)(nil)
	_ msgp.Unmarshaler = (*Report)(nil)
	_ msgp.Sizer       = (*Report)(nil)
)

// NewReport builds a report for results.
func NewReport(hostname string, results []dkim.Result) *Report {
	r := &Report{
		ID:       ulid.Make().String(),
		Hostname: hostname,
		Created:  time.Now().UTC(),
		Status:   string(Summary(results)),
		Entries:  make([]Entry, 0, len(results)),
	}
	for _, res := range results {
		e := Entry{
			Status:    string(res.Status),
			Reason:    res.Reason(),
			Testing:   res.Testing,
			Authentic: res.RecordAuthentic,
		}
		if sig := res.Signature; sig != nil {
			e.Domain = sig.Domain
			e.Selector = sig.Selector
			e.Identity = sig.AUID()
			e.Algorithm = string(sig.Algorithm)
		}
		r.Entries = append(r.Entries, e)
	}
	return r
}

// ToMessagePack serializes the report.
func (r *Report) ToMessagePack() ([]byte, error) {
	return r.MarshalMsg(nil)
}

// FromMessagePack deserializes a report.
func FromMessagePack(data []byte) (*Report, error) {
	var r Report
	if _, err := r.UnmarshalMsg(data); err != nil {
		return nil, err
	}
	return &r, nil
}

// MarshalMsg implements msgp.Marshaler
func (z *Entry) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	// map header, size 8
	o = msgp.AppendMapHeader(o, 8)
	o = msgp.AppendString(o, "status")
	o = msgp.AppendString(o, z.Status)
	o = msgp.AppendString(o, "domain")
	o = msgp.AppendString(o, z.Domain)
	o = msgp.AppendString(o, "selector")
	o = msgp.AppendString(o, z.Selector)
	o = msgp.AppendString(o, "identity")
	o = msgp.AppendString(o, z.Identity)
	o = msgp.AppendString(o, "algorithm")
	o = msgp.AppendString(o, z.Algorithm)
	o = msgp.AppendString(o, "reason")
	o = msgp.AppendString(o, z.Reason)
	o = msgp.AppendString(o, "testing")
	o = msgp.AppendBool(o, z.Testing)
	o = msgp.AppendString(o, "authentic")
	o = msgp.AppendBool(o, z.Authentic)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *Entry) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "status":
			z.Status, bts, err = msgp.ReadStringBytes(bts)
		case "domain":
			z.Domain, bts, err = msgp.ReadStringBytes(bts)
		case "selector":
			z.Selector, bts, err = msgp.ReadStringBytes(bts)
		case "identity":
			z.Identity, bts, err = msgp.ReadStringBytes(bts)
		case "algorithm":
			z.Algorithm, bts, err = msgp.ReadStringBytes(bts)
		case "reason":
			z.Reason, bts, err = msgp.ReadStringBytes(bts)
		case "testing":
			z.Testing, bts, err = msgp.ReadBoolBytes(bts)
		case "authentic":
			z.Authentic, bts, err = msgp.ReadBoolBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			err = msgp.WrapError(err, string(field))
			return
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *Entry) Msgsize() (s int) {
	s = 1 + 7 + msgp.StringPrefixSize + len(z.Status) +
		7 + msgp.StringPrefixSize + len(z.Domain) +
		9 + msgp.StringPrefixSize + len(z.Selector) +
		9 + msgp.StringPrefixSize + len(z.Identity) +
		10 + msgp.StringPrefixSize + len(z.Algorithm) +
		7 + msgp.StringPrefixSize + len(z.Reason) +
		8 + msgp.BoolSize +
		10 + msgp.BoolSize
	return
}

// MarshalMsg implements msgp.Marshaler
func (z *Report) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	// map header, size 5
	o = msgp.AppendMapHeader(o, 5)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendString(o, z.ID)
	o = msgp.AppendString(o, "hostname")
	o = msgp.AppendString(o, z.Hostname)
	o = msgp.AppendString(o, "created")
	o = msgp.AppendTime(o, z.Created)
	o = msgp.AppendString(o, "status")
	o = msgp.AppendString(o, z.Status)
	o = msgp.AppendString(o, "entries")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Entries)))
	for i := range z.Entries {
		o, err = z.Entries[i].MarshalMsg(o)
		if err != nil {
			err = msgp.WrapError(err, "entries", i)
			return
		}
	}
	return
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *Report) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var zb0001 uint32
	zb0001, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		err = msgp.WrapError(err)
		return
	}
	for zb0001 > 0 {
		zb0001--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			err = msgp.WrapError(err)
			return
		}
		switch msgp.UnsafeString(field) {
		case "id":
			z.ID, bts, err = msgp.ReadStringBytes(bts)
		case "hostname":
			z.Hostname, bts, err = msgp.ReadStringBytes(bts)
		case "created":
			z.Created, bts, err = msgp.ReadTimeBytes(bts)
		case "status":
			z.Status, bts, err = msgp.ReadStringBytes(bts)
		case "entries":
			var zb0002 uint32
			zb0002, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				break
			}
			z.Entries = make([]Entry, zb0002)
			for i := range z.Entries {
				bts, err = z.Entries[i].UnmarshalMsg(bts)
				if err != nil {
					err = msgp.WrapError(err, i)
					break
				}
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			err = msgp.WrapError(err, string(field))
			return
		}
	}
	o = bts
	return
}

// Msgsize returns an upper bound estimate of the number of bytes occupied by the serialized message
func (z *Report) Msgsize() (s int) {
	s = 1 + 3 + msgp.StringPrefixSize + len(z.ID) +
		9 + msgp.StringPrefixSize + len(z.Hostname) +
		8 + msgp.TimeSize +
		7 + msgp.StringPrefixSize + len(z.Status) +
		8 + msgp.ArrayHeaderSize
	for i := range z.Entries {
		s += z.Entries[i].Msgsize()
	}
	return
}
