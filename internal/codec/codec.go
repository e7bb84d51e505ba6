// Package codec frames and parses client command lines on the session
// socket, the way the original's per-line dispatcher splits requests on
// whitespace before handing them to a task.
package codec

import (
	"fmt"
	"strings"
)

// Opcode identifies a session request.
type Opcode int

const (
	OpLogin Opcode = iota
	OpLogout
	OpAddFriend
	OpFriendList
	OpScore
	OpScoreboard
	OpMatch
)

func (op Opcode) String() string {
	switch op {
	case OpLogin:
		return "login"
	case OpLogout:
		return "logout"
	case OpAddFriend:
		return "add_friend"
	case OpFriendList:
		return "friend_list"
	case OpScore:
		return "score"
	case OpScoreboard:
		return "scoreboard"
	case OpMatch:
		return "match"
	default:
		return "unknown"
	}
}

// Request is a parsed client command: the opcode plus its positional
// arguments, in the order the wire protocol lists them.
type Request struct {
	Op   Opcode
	Args []string
}

// Parse splits a single command line into a Request. The numeric opcode is
// the first whitespace-separated field; everything after it is an
// argument.
func Parse(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("codec: empty request")
	}

	var op Opcode
	if _, err := fmt.Sscanf(fields[0], "%d", &op); err != nil {
		return Request{}, fmt.Errorf("codec: malformed opcode %q: %w", fields[0], err)
	}
	if op < OpLogin || op > OpMatch {
		return Request{}, fmt.Errorf("codec: unknown opcode %d", op)
	}

	args := fields[1:]
	if err := validateArity(op, args); err != nil {
		return Request{}, err
	}
	return Request{Op: op, Args: args}, nil
}

func validateArity(op Opcode, args []string) error {
	want := map[Opcode]int{
		OpLogin:      3,
		OpLogout:     0,
		OpAddFriend:  1,
		OpFriendList: 0,
		OpScore:      0,
		OpScoreboard: 0,
		OpMatch:      1,
	}[op]
	if len(args) != want {
		return fmt.Errorf("codec: %s expects %d argument(s), got %d", op, want, len(args))
	}
	return nil
}

// EncodeLine terminates reply with the newline every wire reply requires.
func EncodeLine(reply string) []byte {
	if strings.HasSuffix(reply, "\n") {
		return []byte(reply)
	}
	return []byte(reply + "\n")
}
