package modem

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.bug.st/serial"
	"go.uber.org/mock/gomock"
)

func TestSerialDialer(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name    string
		dialer  SerialDialer
		ctx     context.Context
		wantErr error
		wantMsg string
	}{
		{
			name:    "empty port name",
			dialer:  SerialDialer{},
			ctx:     context.Background(),
			wantErr: errNoPortName,
		},
		{
			name:    "nil context",
			dialer:  SerialDialer{PortName: "/dev/ttyUSB0"},
			ctx:     nil,
			wantErr: errNilContext,
		},
		{
			name:    "canceled before open",
			dialer:  SerialDialer{PortName: "/dev/nonexistent"},
			ctx:     canceled,
			wantErr: context.Canceled,
		},
		{
			name:    "default mode",
			dialer:  SerialDialer{PortName: "/dev/nonexistent"},
			ctx:     context.Background(),
			wantMsg: "open serial port /dev/nonexistent",
		},
		{
			name:    "custom baud rate",
			dialer:  SerialDialer{PortName: "/dev/nonexistent", BaudRate: 9600},
			ctx:     context.Background(),
			wantMsg: "open serial port /dev/nonexistent",
		},
		{
			name: "explicit mode",
			dialer: SerialDialer{
				PortName: "/dev/nonexistent",
				Mode: &serial.Mode{
					BaudRate: 115200,
					Parity:   serial.NoParity,
					DataBits: 8,
					StopBits: serial.OneStopBit,
				},
			},
			ctx:     context.Background(),
			wantMsg: "open serial port /dev/nonexistent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := tt.dialer.Dial(tt.ctx)

			if err == nil {
				t.Fatal("expected an error")
			}
			if transport != nil {
				t.Error("expected nil transport on error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got: %v", tt.wantErr, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error to contain %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestMockDialer(t *testing.T) {
	t.Run("Returns the transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := NewMockDialer(ctrl)
		mockTransport := NewMockTransport(ctrl)
		var _ Dialer = mockDialer
		var _ Transport = mockTransport

		ctx := context.Background()
		mockDialer.EXPECT().Dial(ctx).Return(mockTransport, nil)

		transport, err := mockDialer.Dial(ctx)
		if err != nil {
			t.Errorf("unexpected dial error: %v", err)
		}
		if transport != mockTransport {
			t.Error("expected mock transport to be returned")
		}
	})

	t.Run("Returns the error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := NewMockDialer(ctrl)
		dialErr := errors.New("dial failed")

		ctx := context.Background()
		mockDialer.EXPECT().Dial(ctx).Return(nil, dialErr)

		transport, err := mockDialer.Dial(ctx)
		if !errors.Is(err, dialErr) {
			t.Errorf("expected dial error, got: %v", err)
		}
		if transport != nil {
			t.Error("expected nil transport on error")
		}
	})
}

func TestTestTransport(t *testing.T) {
	t.Run("Splits queued data across reads", func(t *testing.T) {
		tr := NewTestTransport()
		tr.SendData("+CSQ: 15,99\r\n")
		tr.Close()

		var got strings.Builder
		buf := make([]byte, 4)
		for {
			n, err := tr.Read(buf)
			got.Write(buf[:n])
			if err != nil {
				break
			}
		}
		if got.String() != "+CSQ: 15,99\r\n" {
			t.Errorf("unexpected data %q", got.String())
		}
	})

	t.Run("Records and fails writes", func(t *testing.T) {
		tr := NewTestTransport()
		defer tr.Close()

		if _, err := tr.Write([]byte("AT\r\n")); err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}
		if w := tr.Written(); w != "AT\r\n" {
			t.Errorf("unexpected written data %q", w)
		}
		if w := tr.Written(); w != "" {
			t.Errorf("expected Written to clear, got %q", w)
		}

		writeErr := errors.New("port gone")
		tr.FailWrites(writeErr)
		if _, err := tr.Write([]byte("AT\r\n")); !errors.Is(err, writeErr) {
			t.Errorf("expected write error, got: %v", err)
		}
	})
}
