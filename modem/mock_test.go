package modem_test

import (
	"io"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/modemchat/at"
	"i4.energy/across/modemchat/modem"
)

// MockSequenceBuilder scripts a MockTransport as a modem: each expected
// request write releases the responses the modem would send back.
type MockSequenceBuilder struct {
	transport *modem.MockTransport
	replies   chan string
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		replies:   make(chan string, 32),
		calls:     []any{},
	}
}

// Exchange expects request plus delimiter to be written and then makes
// responses available to Read.
func (b *MockSequenceBuilder) Exchange(request string, responses ...string) *MockSequenceBuilder {
	wire := []byte(request + at.CRLF)
	b.calls = append(b.calls,
		b.transport.EXPECT().Write(wire).DoAndReturn(func(p []byte) (int, error) {
			for _, resp := range responses {
				b.replies <- resp
			}
			return len(p), nil
		}),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Exchange("AT", "AT\r\nOK\r\n")
}

func (b *MockSequenceBuilder) EchoOff() *MockSequenceBuilder {
	return b.Exchange("ATE0", "ATE0\r\nOK\r\n")
}

func (b *MockSequenceBuilder) SignalQuality() *MockSequenceBuilder {
	return b.Exchange("AT+CSQ", "+CSQ: 15,99\r\n", "OK\r\n")
}

// Build registers the blocking Read expectation and returns the ordered
// write expectations for gomock.InOrder.
func (b *MockSequenceBuilder) Build() []any {
	b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
		resp, ok := <-b.replies
		if !ok {
			return 0, io.EOF
		}
		return copy(p, resp), nil
	}).AnyTimes()
	return b.calls
}

// Close makes pending and future reads return io.EOF.
func (b *MockSequenceBuilder) Close() {
	close(b.replies)
}
