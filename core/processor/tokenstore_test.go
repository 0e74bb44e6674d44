package processor_test

import (
	"testing"

	"github.com/modelmycode/cqrs-framework/core/processor"
	"github.com/modelmycode/cqrs-framework/core/processor/processortest"
	"github.com/modelmycode/cqrs-framework/ports/kv"
)

func TestInMemoryTokenStore(t *testing.T) {
	processortest.TestTokenStore(t, processor.NewInMemoryTokenStore(nil))
}

func TestKVTokenStore(t *testing.T) {
	processortest.TestTokenStore(t, processor.NewKVTokenStore(kv.NewMemStore(), nil))
}
