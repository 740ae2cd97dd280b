package tokenring

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pucrs/tokenring/ring"
)

// TOKEN tags token messages on the wire.
const TOKEN string = "token"

var ErrMalformedToken = errors.New("malformed token message")

// Token is the single permission to enter the critical section. Seq counts the
// forwards the token went through since the ring started.
type Token struct {
	Sender ring.ID
	Seq    uint64
}

// Encode returns the wire form "token;<sender>;<seq>".
func (t Token) Encode() string {
	return fmt.Sprintf("%s;%d;%d", TOKEN, t.Sender, t.Seq)
}

// DecodeToken parses a message produced by Token.Encode.
func DecodeToken(msg string) (Token, error) {
	parts := strings.Split(msg, ";")
	if len(parts) != 3 || parts[0] != TOKEN {
		return Token{}, fmt.Errorf("tokenring.DecodeToken: %w: %q", ErrMalformedToken, msg)
	}
	sender, err := strconv.Atoi(parts[1])
	if err != nil {
		return Token{}, fmt.Errorf("tokenring.DecodeToken: %w: sender: %v", ErrMalformedToken, err)
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("tokenring.DecodeToken: %w: seq: %v", ErrMalformedToken, err)
	}
	return Token{Sender: ring.ID(sender), Seq: seq}, nil
}
