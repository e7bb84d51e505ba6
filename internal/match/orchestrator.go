// Package match implements the two-phase duel protocol named in the
// system design (§4.7): a datagram invitation handshake with a timeout,
// an ephemeral TCP rendezvous shared by both peers, round-by-round word
// delivery, and scoring. Both phases run as WorkerPool tasks, never on the
// reactor goroutine or blocking other peers' handlers, grounded on
// original_source/MatchTask.java's structure translated from blocking
// Selector calls into Go's net package plus goroutines standing in for
// the original's secondary Selector.
package match

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	domainmatch "github.com/gioleppe/Word-Quizzle/internal/domain/match"
	"github.com/gioleppe/Word-Quizzle/internal/domain/word"
	"github.com/gioleppe/Word-Quizzle/internal/handlers"
	"github.com/gioleppe/Word-Quizzle/internal/presence"
	"github.com/gioleppe/Word-Quizzle/internal/wordsource"
	"github.com/gioleppe/Word-Quizzle/internal/workerpool"
	"github.com/gioleppe/Word-Quizzle/internal/wqerrors"
)

// Orchestrator runs duels end to end. One Orchestrator is shared by every
// match task; it carries no per-duel state between calls.
type Orchestrator struct {
	Handlers *handlers.Handlers
	Presence *presence.Registry
	Words    wordsource.Source
	Pool     *workerpool.Pool

	AcceptTimer time.Duration
	MatchTimer  time.Duration
	MatchWords  int

	Log *zap.SugaredLogger
}

// New builds an Orchestrator. pool is the same bounded WorkerPool that
// runs Phase 1 (the Challenge call itself): Phases 2-4 are submitted back
// onto it rather than escaping onto an unmanaged goroutine, so §4.5's
// concurrency bound and Pool.Stop's drain still cover the whole duel.
func New(h *handlers.Handlers, presenceReg *presence.Registry, words wordsource.Source, pool *workerpool.Pool, acceptTimer, matchTimer time.Duration, matchWords int, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{
		Handlers:    h,
		Presence:    presenceReg,
		Words:       words,
		Pool:        pool,
		AcceptTimer: acceptTimer,
		MatchTimer:  matchTimer,
		MatchWords:  matchWords,
		Log:         log,
	}
}

// inviteResult is Phase 1's outcome: the duel-side state, the single line
// the challenger's session socket gets on success, and — only on
// Accepted — the rendezvous listener Phase 2 continues on. A non-nil err
// means Phase 1 ended in one of the sentinel-carrying outcomes and reply
// is unset; Challenge formats the reply from err instead.
type inviteResult struct {
	state domainmatch.State
	reply string
	err   error
	ln    *net.TCPListener
}

// Challenge runs the full duel protocol for a "match" request from
// challenger against friend. Its return value is the single line to
// write back on the challenger's own session socket: either a preflight
// rejection or the Phase 1 outcome (accepted/refused/timed out). On
// acceptance, Phase 2 onward is submitted back onto the pool as its own
// task, running over the duel's own rendezvous connections and never
// touching the session socket again.
func (o *Orchestrator) Challenge(ctx context.Context, challenger, friend string) string {
	challengerEndpoint, challengedEndpoint, err := o.preflight(ctx, challenger, friend)
	if err != nil {
		return formatMatchError(err, friend)
	}

	result := o.invite(challenger, friend, challengedEndpoint)
	switch {
	case result.err != nil:
		return formatMatchError(result.err, friend)
	case result.state == domainmatch.Accepted:
		o.Pool.Submit(func() { o.runDuel(result.ln, challenger, friend, challengerEndpoint, challengedEndpoint) })
		return result.reply
	default:
		return result.reply
	}
}

// preflight runs the checks that reject a challenge before any socket is
// opened, reporting failures through the shared sentinel catalogue.
func (o *Orchestrator) preflight(ctx context.Context, challenger, friend string) (challengerEndpoint, challengedEndpoint net.Addr, err error) {
	if challenger == friend {
		return nil, nil, wqerrors.ErrSelfChallenge
	}

	challengerRec, err := o.Handlers.Users.Get(ctx, challenger)
	if err != nil {
		return nil, nil, wqerrors.UnknownUser(challenger)
	}
	if !challengerRec.HasFriend(friend) {
		return nil, nil, fmt.Errorf("%w: %s and %s", wqerrors.ErrNotFriends, challenger, friend)
	}

	challengedEndpoint, online := o.Presence.EndpointOf(friend)
	if !online {
		return nil, nil, fmt.Errorf("%w: %s", wqerrors.ErrFriendOffline, friend)
	}
	challengerEndpoint, _ = o.Presence.EndpointOf(challenger)
	return challengerEndpoint, challengedEndpoint, nil
}

// formatMatchError turns a sentinel-wrapped preflight or invitation
// failure into the exact line the session protocol names for it.
func formatMatchError(err error, friend string) string {
	switch {
	case errors.Is(err, wqerrors.ErrSelfChallenge):
		return "Match error: you cannot challenge yourself."
	case errors.Is(err, wqerrors.ErrUnknownUser):
		return fmt.Sprintf("Match error: %s.", err)
	case errors.Is(err, wqerrors.ErrNotFriends):
		return fmt.Sprintf("Match error: you and %s are not friends.", friend)
	case errors.Is(err, wqerrors.ErrFriendOffline):
		return fmt.Sprintf("Match error: %s is offline.", friend)
	case errors.Is(err, wqerrors.ErrInviteTimedOut):
		return fmt.Sprintf("Match error: invitation to %s timed out.", friend)
	case errors.Is(err, wqerrors.ErrInviteRefused):
		return fmt.Sprintf("%s refused your match invitation.", friend)
	default:
		return "Match error: internal error."
	}
}

// invite runs Phase 1.
func (o *Orchestrator) invite(challenger, friend string, challengedEndpoint net.Addr) inviteResult {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		o.Log.Errorw("match: failed to open rendezvous listener", "error", err)
		return inviteResult{state: domainmatch.Aborted, reply: "Match error: internal error."}
	}
	tcpLn := ln.(*net.TCPListener)
	duelPort := tcpLn.Addr().(*net.TCPAddr).Port

	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		tcpLn.Close()
		o.Log.Errorw("match: failed to open invitation socket", "error", err)
		return inviteResult{state: domainmatch.Aborted, reply: "Match error: internal error."}
	}
	defer udpConn.Close()

	challengedUDP, ok := challengedEndpoint.(*net.UDPAddr)
	if !ok {
		tcpLn.Close()
		return inviteResult{state: domainmatch.Aborted, reply: "Match error: internal error."}
	}

	payload := fmt.Sprintf("%s/%d", challenger, duelPort)
	if _, err := udpConn.WriteToUDP([]byte(payload), challengedUDP); err != nil {
		tcpLn.Close()
		o.Log.Warnw("match: failed to send invitation", "error", err)
		return inviteResult{state: domainmatch.Aborted, reply: "Match error: internal error."}
	}

	udpConn.SetReadDeadline(time.Now().Add(o.AcceptTimer))
	buf := make([]byte, 64)
	n, _, err := udpConn.ReadFromUDP(buf)
	if err != nil {
		udpConn.WriteToUDP([]byte(fmt.Sprintf("TIMEOUT/%s", challenger)), challengedUDP)
		tcpLn.Close()
		return inviteResult{
			state: domainmatch.TimedOut,
			err:   fmt.Errorf("%w: %s", wqerrors.ErrInviteTimedOut, friend),
		}
	}

	if strings.TrimSpace(string(buf[:n])) != "Y" {
		tcpLn.Close()
		return inviteResult{
			state: domainmatch.Refused,
			err:   fmt.Errorf("%w: %s", wqerrors.ErrInviteRefused, friend),
		}
	}

	return inviteResult{
		state: domainmatch.Accepted,
		reply: fmt.Sprintf("%s accepted your match invitation./%d", friend, duelPort),
		ln:    tcpLn,
	}
}

// runDuel runs Phases 2 through 4. It owns ln and every connection it
// accepts, and always releases them before returning.
func (o *Orchestrator) runDuel(ln *net.TCPListener, challenger, friend string, challengerEndpoint, challengedEndpoint net.Addr) {
	defer ln.Close()

	challengerConn, challengedConn, err := o.rendezvous(ln, challengerEndpoint, challengedEndpoint)
	if err != nil {
		o.Log.Warnw("match: rendezvous failed", "challenger", challenger, "friend", friend, "error", err)
		return
	}
	defer challengerConn.Close()
	defer challengedConn.Close()

	words, err := o.Words.Words(context.Background(), o.MatchWords)
	if err != nil {
		o.Log.Errorw("match: failed to fetch word batch", "error", err)
		return
	}

	challengerPeer := &domainmatch.Peer{Nickname: challenger, Conn: challengerConn, Answers: make([]string, o.MatchWords)}
	challengedPeer := &domainmatch.Peer{Nickname: friend, Conn: challengedConn, Answers: make([]string, o.MatchWords)}

	timedOut := o.exchange(challengerPeer, challengedPeer, words)

	outcome := domainmatch.ScoreDuel(words, challengerPeer.Answers, challengedPeer.Answers, o.MatchWords, o.MatchWords, timedOut)

	ctx := context.Background()
	if err := o.Handlers.AdjustScore(ctx, challenger, outcome.ChallengerScore); err != nil {
		o.Log.Errorw("match: failed to persist challenger score", "nickname", challenger, "error", err)
	}
	if err := o.Handlers.AdjustScore(ctx, friend, outcome.ChallengedScore); err != nil {
		o.Log.Errorw("match: failed to persist challenged score", "nickname", friend, "error", err)
	}

	writeFinal(challengerPeer.Conn, outcome.ChallengerScore, outcome.ChallengerMsg, timedOut)
	writeFinal(challengedPeer.Conn, outcome.ChallengedScore, outcome.ChallengedMsg, timedOut)
}

// rendezvous runs Phase 2: accept both peers' duel connections, matching
// each accepted socket to its owner by comparing the connecting peer's IP
// against the registered datagram endpoint's IP.
func (o *Orchestrator) rendezvous(ln *net.TCPListener, challengerEndpoint, challengedEndpoint net.Addr) (challengerConn, challengedConn net.Conn, err error) {
	ln.SetDeadline(time.Now().Add(o.AcceptTimer))

	for i := 0; i < 2; i++ {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return nil, nil, fmt.Errorf("accept duel peer: %w", acceptErr)
		}

		peerIP := remoteIP(conn)
		switch {
		case challengerConn == nil && sameIP(peerIP, challengerEndpoint):
			challengerConn = conn
		case challengedConn == nil && sameIP(peerIP, challengedEndpoint):
			challengedConn = conn
		default:
			conn.Close()
		}
	}

	if challengerConn == nil || challengedConn == nil {
		if challengerConn != nil {
			challengerConn.Close()
		}
		if challengedConn != nil {
			challengedConn.Close()
		}
		return nil, nil, fmt.Errorf("rendezvous: could not identify both duel peers")
	}
	return challengerConn, challengedConn, nil
}

func remoteIP(conn net.Conn) net.IP {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return addr.IP
}

func sameIP(ip net.IP, endpoint net.Addr) bool {
	udpAddr, ok := endpoint.(*net.UDPAddr)
	if !ok || ip == nil {
		return false
	}
	return ip.Equal(udpAddr.IP)
}

// peerEvent is one line read off a peer's duel connection, or its crash.
type peerEvent struct {
	peer *domainmatch.Peer
	line string
	eof  bool
}

// exchange runs Phase 3: feeds both peers their next word as they answer
// the previous one, until the match deadline fires or both have finished
// their batch. It returns whether the deadline fired first.
func (o *Orchestrator) exchange(challengerPeer, challengedPeer *domainmatch.Peer, words []word.Word) bool {
	events := make(chan peerEvent, 4)
	for _, peer := range []*domainmatch.Peer{challengerPeer, challengedPeer} {
		go readPeerLines(peer, events)
	}

	deadline := time.Now().Add(o.MatchTimer)
	for !challengerPeer.Finished(o.MatchWords) || !challengedPeer.Finished(o.MatchWords) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}

		select {
		case ev := <-events:
			if ev.eof {
				markCrashed(ev.peer, o.MatchWords)
				continue
			}
			o.handleLine(ev.peer, ev.line, words)
		case <-time.After(remaining):
			return true
		}
	}
	return false
}

func readPeerLines(peer *domainmatch.Peer, events chan<- peerEvent) {
	scanner := bufio.NewScanner(peer.Conn)
	for scanner.Scan() {
		events <- peerEvent{peer: peer, line: scanner.Text()}
	}
	events <- peerEvent{peer: peer, eof: true}
}

func markCrashed(peer *domainmatch.Peer, matchWords int) {
	for i := peer.Cursor; i < matchWords; i++ {
		peer.Answers[i] = ""
	}
	peer.Cursor = matchWords + 1
}

// handleLine applies Phase 3's per-line protocol: "<text>/<peerNickname>".
func (o *Orchestrator) handleLine(peer *domainmatch.Peer, line string, words []word.Word) {
	text, _, ok := strings.Cut(line, "/")
	if !ok {
		text = line
	}

	if text == "START" {
		writeWord(peer.Conn, words[0].Text)
		peer.Cursor = 1
		return
	}

	answerIndex := peer.Cursor - 1
	if answerIndex < 0 || answerIndex >= len(peer.Answers) {
		return
	}
	peer.Answers[answerIndex] = text

	if peer.Cursor < o.MatchWords {
		writeWord(peer.Conn, words[peer.Cursor].Text)
		peer.Cursor++
	} else {
		peer.Cursor = o.MatchWords + 1
	}
}

func writeWord(conn net.Conn, text string) {
	fmt.Fprintf(conn, "%s\n", text)
}

func writeFinal(conn net.Conn, score int, verdict string, timedOut bool) {
	prefix := ""
	if timedOut {
		prefix = "Time out: "
	}
	fmt.Fprintf(conn, "END/%sYou have scored: %d points. You %s.\n", prefix, score, verdict)
}
