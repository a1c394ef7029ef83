package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"docdigitizer/internal/apperr"
)

type fakeChatModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func TestEinoEngineExtract(t *testing.T) {
	chat := &fakeChatModel{reply: `{"certificate":"Birth Certificate","name":"John Doe","office_seal_present":false}`}
	engine := &EinoEngine{chat: chat}

	fields, err := engine.Extract(context.Background(), []PageImage{{MIMEType: "image/jpeg", Data: []byte("jpg")}}, false)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if fields.Name != "John Doe" {
		t.Fatalf("unexpected fields %+v", fields)
	}
	if len(chat.input) != 2 || chat.input[0].Role != schema.System {
		t.Fatalf("expected system + user messages, got %+v", chat.input)
	}
	parts := chat.input[1].UserInputMultiContent
	if len(parts) != 2 || parts[0].Image == nil || parts[0].Image.MIMEType != "image/jpeg" || *parts[0].Image.Base64Data != "anBn" {
		t.Fatalf("unexpected user parts %+v", parts)
	}
}

func TestEinoEngineErrors(t *testing.T) {
	engine := &EinoEngine{chat: &fakeChatModel{err: errors.New("rate limited")}}
	_, err := engine.Extract(context.Background(), []PageImage{{MIMEType: "image/png", Data: []byte("x")}}, false)
	if !apperr.Is(err, apperr.KindEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}

	engine = &EinoEngine{chat: &fakeChatModel{reply: `{"name":"John Doe"}`}}
	_, err = engine.Extract(context.Background(), []PageImage{{MIMEType: "image/heic-sequence-unknown", Data: []byte("x")}}, false)
	if err != nil {
		t.Fatalf("image subtypes pass through to the provider: %v", err)
	}
	_, err = engine.Extract(context.Background(), []PageImage{{MIMEType: "text/plain", Data: []byte("x")}}, false)
	if !apperr.Is(err, apperr.KindEngine) {
		t.Fatalf("expected engine error for unsupported type, got %v", err)
	}
}
