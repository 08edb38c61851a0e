package authgate

import (
	"fmt"
	"strings"

	"github.com/codefionn/botschafter/internal/securemem"
)

// Responder answers one challenge line from the daemon. reply is written
// back (newline-terminated) when non-empty; done=true ends the handshake
// successfully; a non-nil error aborts it.
type Responder interface {
	Respond(challenge string) (reply string, done bool, err error)
}

// Properties is the credential state the gate consumes. Credentials live in
// locked memory for the gate's lifetime; CodePrompt is called when the
// daemon asks for a login code, which cannot be stored at rest.
type Properties struct {
	Phone      *securemem.String
	Password   *securemem.String
	CodePrompt func() (string, error)
}

func (p *Properties) responder() Responder {
	return &loginResponder{props: p}
}

// loginResponder implements the msgd login grammar. The daemon emits one
// challenge per line; anything outside the grammar is startup chatter and
// ignored:
//
//	auth phone_number      reply with the configured phone
//	auth code              reply with a freshly prompted login code
//	auth password          reply with the configured password
//	auth ok                handshake finished
//	auth failed <reason>   handshake rejected
type loginResponder struct {
	props *Properties
}

func (r *loginResponder) Respond(challenge string) (string, bool, error) {
	fields := strings.Fields(challenge)
	if len(fields) < 2 || fields[0] != "auth" {
		return "", false, nil
	}

	switch fields[1] {
	case "phone_number":
		if r.props.Phone.IsEmpty() {
			return "", false, fmt.Errorf("daemon asked for a phone number but none is configured")
		}
		return r.props.Phone.String(), false, nil

	case "code":
		if r.props.CodePrompt == nil {
			return "", false, fmt.Errorf("daemon asked for a login code but no code prompt is available")
		}
		code, err := r.props.CodePrompt()
		if err != nil {
			return "", false, fmt.Errorf("code prompt: %w", err)
		}
		return strings.TrimSpace(code), false, nil

	case "password":
		if r.props.Password.IsEmpty() {
			return "", false, fmt.Errorf("daemon asked for a password but none is configured")
		}
		return r.props.Password.String(), false, nil

	case "ok":
		return "", true, nil

	case "failed":
		reason := strings.Join(fields[2:], " ")
		if reason == "" {
			reason = "no reason given"
		}
		return "", false, fmt.Errorf("daemon rejected login: %s", reason)

	default:
		return "", false, fmt.Errorf("unsupported challenge %q", challenge)
	}
}
