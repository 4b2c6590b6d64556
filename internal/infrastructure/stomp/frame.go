// Package stomp carries STOMP 1.2 frames over WebSocket text messages, one
// frame per message. It is shared by the realtime hub and the chat client.
package stomp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-stomp/stomp/v3/frame"
)

const Version = "1.2"

// Commands used by the messaging protocol.
const (
	CommandConnect     = "CONNECT"
	CommandStomp       = "STOMP"
	CommandConnected   = "CONNECTED"
	CommandSend        = "SEND"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandDisconnect  = "DISCONNECT"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandError       = "ERROR"
)

// Header names.
const (
	HeaderAcceptVersion = "accept-version"
	HeaderVersion       = "version"
	HeaderHost          = "host"
	HeaderSession       = "session"
	HeaderServer        = "server"
	HeaderAuthorization = "Authorization"
	HeaderPasscode      = "passcode"
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderSubscription  = "subscription"
	HeaderMessageID     = "message-id"
	HeaderContentType   = "content-type"
	HeaderReceipt       = "receipt"
	HeaderReceiptID     = "receipt-id"
	HeaderMessage       = "message"
)

const ContentTypeJSON = "application/json"

var ErrEmptyFrame = errors.New("stomp: message holds no frame")

// Frame aliases the codec's frame type so callers need not import it.
type Frame = frame.Frame

// NewFrame builds a frame from a command and alternating header keys and values.
func NewFrame(command string, headers ...string) *Frame {
	return frame.New(command, headers...)
}

// Encode renders f in wire format, NUL terminator included.
func Encode(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("stomp: encode %s: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// Decode parses one WebSocket message. A message holding only heart-beat
// newlines returns ErrEmptyFrame.
func Decode(data []byte) (*Frame, error) {
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("stomp: decode: %w", err)
	}
	if f == nil {
		return nil, ErrEmptyFrame
	}
	return f, nil
}

// ErrorFrame reports a protocol or application failure to the peer.
func ErrorFrame(message string, receiptID string) *Frame {
	f := NewFrame(CommandError, HeaderMessage, message, HeaderContentType, "text/plain")
	if receiptID != "" {
		f.Header.Set(HeaderReceiptID, receiptID)
	}
	f.Body = []byte(message)
	return f
}

// ErrorMessage extracts a readable reason from an ERROR frame.
func ErrorMessage(f *Frame) string {
	if msg := f.Header.Get(HeaderMessage); msg != "" {
		return msg
	}
	if len(f.Body) > 0 {
		return string(f.Body)
	}
	return "server reported an error"
}
