package pbx_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/joeycumines/go-chatloop/pbx"
)

func TestClientMsg_MarshalJSON_singleKey(t *testing.T) {
	b, err := json.Marshal(&pbx.ClientMsg{Payload: &pbx.ClientPub{
		ID:      "104",
		Topic:   "grpAbc",
		Content: []byte(`"hi"`),
	}})
	if err != nil {
		t.Fatal(err)
	}
	if s := string(b); s != `{"pub":{"id":"104","topic":"grpAbc","content":"hi"}}` {
		t.Fatalf("unexpected json: %s", s)
	}
}

func TestClientMsg_UnmarshalJSON(t *testing.T) {
	var msg pbx.ClientMsg
	if err := json.Unmarshal([]byte(`{"note":{"topic":"usrX","what":"read","seq":7}}`), &msg); err != nil {
		t.Fatal(err)
	}
	note, ok := msg.Payload.(*pbx.ClientNote)
	if !ok {
		t.Fatalf("unexpected payload: %T", msg.Payload)
	}
	if note.Topic != "usrX" || note.What != pbx.NoteRead || note.SeqID != 7 {
		t.Fatalf("unexpected note: %+v", note)
	}
	if _, ok := msg.Payload.(pbx.Request); ok {
		t.Fatal("note must not be a request")
	}
	if msg.Kind() != "note" {
		t.Fatal(msg.Kind())
	}
}

func TestServerMsg_UnmarshalJSON_errors(t *testing.T) {
	for _, tc := range [...]struct {
		name  string
		input string
		check func(err error) bool
	}{
		{`empty`, `{}`, func(err error) bool { return errors.Is(err, pbx.ErrNoPayload) }},
		{`null only`, `{"ctrl":null}`, func(err error) bool { return errors.Is(err, pbx.ErrNoPayload) }},
		{`multiple`, `{"ctrl":{},"data":{}}`, func(err error) bool { return errors.Is(err, pbx.ErrMultiplePayloads) }},
		{`unknown`, `{"bogus":{}}`, func(err error) bool {
			var target *pbx.UnknownKindError
			return errors.As(err, &target) && target.Kind == "bogus"
		}},
		{`not an object`, `[]`, func(err error) bool { return err != nil }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var msg pbx.ServerMsg
			err := json.Unmarshal([]byte(tc.input), &msg)
			if !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestServerMsg_roundTripCtrl(t *testing.T) {
	in := &pbx.ServerMsg{Payload: &pbx.ServerCtrl{
		ID:     "101",
		Code:   200,
		Text:   "ok",
		Params: map[string][]byte{"user": []byte(`"usrAlice"`), "seq": []byte(`5`)},
	}}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out pbx.ServerMsg
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	id, ok := out.ReplyID()
	if !ok || id != "101" {
		t.Fatal(id, ok)
	}
	ctrl := out.Payload.(*pbx.ServerCtrl)
	var user string
	if ok, err := ctrl.Param("user", &user); err != nil || !ok || user != "usrAlice" {
		t.Fatal(ok, err, user)
	}
	var seq int32
	if ok, err := ctrl.Param("seq", &seq); err != nil || !ok || seq != 5 {
		t.Fatal(ok, err, seq)
	}
	if ok, err := ctrl.Param("missing", &seq); ok || err != nil {
		t.Fatal(ok, err)
	}
}

func TestClientMsg_MarshalJSON_wireNames(t *testing.T) {
	for _, tc := range [...]struct {
		name    string
		payload pbx.ClientPayload
		want    string
	}{
		{`hi`, &pbx.ClientHi{ID: "hello", UserAgent: "chatctl/1", Ver: "0.16", DeviceID: "d1", Lang: "EN", Platform: "web"},
			`{"hi":{"id":"hello","ua":"chatctl/1","ver":"0.16","dev":"d1","lang":"EN","platf":"web"}}`},
		{`acc`, &pbx.ClientAcc{ID: "101", UserID: "new", Scheme: "basic", Secret: []byte("bob:x"), Login: true, Desc: &pbx.SetDesc{Public: []byte(`{"fn":"Bob"}`)}},
			`{"acc":{"id":"101","user":"new","scheme":"basic","secret":"Ym9iOng=","login":true,"desc":{"public":{"fn":"Bob"}}}}`},
		{`sub`, &pbx.ClientSub{ID: "102", Topic: "grpA", GetQuery: &pbx.GetQuery{What: "data", Data: &pbx.GetOpts{SinceID: 3, Limit: 10}}},
			`{"sub":{"id":"102","topic":"grpA","get":{"what":"data","data":{"since":3,"limit":10}}}}`},
		{`pub`, &pbx.ClientPub{ID: "103", Topic: "grpA", NoEcho: true, Head: map[string][]byte{"mime": []byte(`"text/x-drafty"`)}, Content: []byte(`{"txt":"hi"}`)},
			`{"pub":{"id":"103","topic":"grpA","noecho":true,"head":{"mime":"text/x-drafty"},"content":{"txt":"hi"}}}`},
		{`get`, &pbx.ClientGet{ID: "104", Topic: "me", Query: &pbx.GetQuery{What: "sub", Sub: &pbx.GetOpts{IfModifiedSince: 1700000000000}}},
			`{"get":{"id":"104","topic":"me","what":"sub","sub":{"ims":"2023-11-14T22:13:20Z"}}}`},
		{`set`, &pbx.ClientSet{ID: "105", Topic: "grpA", Query: &pbx.SetQuery{Sub: &pbx.SetSub{UserID: "usrB", Mode: "JRWP"}}},
			`{"set":{"id":"105","topic":"grpA","sub":{"user":"usrB","mode":"JRWP"}}}`},
		{`del`, &pbx.ClientDel{ID: "106", Topic: "grpA", What: pbx.DelMsg, DelSeq: []pbx.SeqRange{{Low: 1, Hi: 3}}, Hard: true},
			`{"del":{"id":"106","topic":"grpA","what":"msg","delseq":[{"low":1,"hi":3}],"hard":true}}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(&pbx.ClientMsg{Payload: tc.payload})
			if err != nil {
				t.Fatal(err)
			}
			if s := string(b); s != tc.want {
				t.Fatalf("unexpected json: %s", s)
			}
			var out pbx.ClientMsg
			if err := json.Unmarshal(b, &out); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(tc.payload, out.Payload) {
				t.Fatalf("unexpected payload: %+v", out.Payload)
			}
		})
	}
}

func TestServerMsg_UnmarshalJSON_wireNames(t *testing.T) {
	var msg pbx.ServerMsg
	if err := json.Unmarshal([]byte(`{"data":{"topic":"grpA","from":"usrAlice","ts":"2023-11-14T22:13:20.5Z","seq":7,"head":{"mime":"text/plain"},"content":"hello"}}`), &msg); err != nil {
		t.Fatal(err)
	}
	want := &pbx.ServerData{
		Topic:      "grpA",
		FromUserID: "usrAlice",
		Timestamp:  1700000000500,
		SeqID:      7,
		Head:       map[string][]byte{"mime": []byte(`"text/plain"`)},
		Content:    []byte(`"hello"`),
	}
	if !reflect.DeepEqual(want, msg.Payload) {
		t.Fatalf("unexpected payload: %+v", msg.Payload)
	}

	if err := json.Unmarshal([]byte(`{"meta":{"id":"108","topic":"me","sub":[{"user":"usrB","topic":"grpA","read":2,"recv":3,"seq":4,"seen":{"ua":"web"}}]}}`), &msg); err != nil {
		t.Fatal(err)
	}
	meta, ok := msg.Payload.(*pbx.ServerMeta)
	if !ok || len(meta.Sub) != 1 {
		t.Fatalf("unexpected payload: %+v", msg.Payload)
	}
	if sub := meta.Sub[0]; sub.UserID != "usrB" || sub.Topic != "grpA" || sub.ReadID != 2 || sub.RecvID != 3 || sub.SeqID != 4 || sub.LastSeenUserAgent != "web" {
		t.Fatalf("unexpected sub: %+v", sub)
	}
}

func TestIsValidPayload(t *testing.T) {
	for _, tc := range [...]struct {
		payload any
		valid   bool
	}{
		{nil, false},
		{(*pbx.ClientPub)(nil), false},
		{(*pbx.ServerCtrl)(nil), false},
		{&pbx.ClientPub{}, true},
		{&pbx.ClientNote{}, true},
		{&pbx.ServerData{}, true},
		{"pub", false},
	} {
		if pbx.IsValidPayload(tc.payload) != tc.valid {
			t.Errorf("%#v: expected %v", tc.payload, tc.valid)
		}
	}
	if _, err := json.Marshal(&pbx.ClientMsg{Payload: (*pbx.ClientPub)(nil)}); !errors.Is(err, pbx.ErrNoPayload) {
		t.Fatal(err)
	}
}

func TestServerMsg_ReplyID_data(t *testing.T) {
	msg := &pbx.ServerMsg{Payload: &pbx.ServerData{Topic: "grp1", SeqID: 1}}
	if _, ok := msg.ReplyID(); ok {
		t.Fatal("data has no reply id")
	}
}

func TestSeqRange_Contains(t *testing.T) {
	if !(pbx.SeqRange{Low: 65}).Contains(65) {
		t.Error("single id")
	}
	r := pbx.SeqRange{Low: 123, Hi: 126}
	if !r.Contains(123) || !r.Contains(125) || r.Contains(126) || r.Contains(122) {
		t.Error("range is inclusive-exclusive")
	}
}
