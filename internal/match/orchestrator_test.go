package match

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gioleppe/Word-Quizzle/internal/domain/word"
	"github.com/gioleppe/Word-Quizzle/internal/handlers"
	"github.com/gioleppe/Word-Quizzle/internal/presence"
	"github.com/gioleppe/Word-Quizzle/internal/store"
	"github.com/gioleppe/Word-Quizzle/internal/workerpool"
)

// fixedSource serves the exact two-word batch used by the scoring
// scenario this test mirrors, rather than the nondeterministic dictionary
// draw LocalSource makes.
type fixedSource struct {
	words []word.Word
}

func (s fixedSource) Words(ctx context.Context, n int) ([]word.Word, error) {
	return s.words[:n], nil
}

func newTestOrchestrator(t *testing.T, acceptTimer, matchTimer time.Duration) (*Orchestrator, *handlers.Handlers) {
	t.Helper()
	s, err := store.NewFileUserStore(filepath.Join(t.TempDir(), "users.json"), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("NewFileUserStore: %v", err)
	}
	h := handlers.New(s, presence.New())
	src := fixedSource{words: []word.Word{
		word.New("casa", []string{"house", "home"}),
		word.New("cane", []string{"dog"}),
	}}
	pool := workerpool.New(4, 16, zap.NewNop().Sugar())
	t.Cleanup(pool.Stop)
	o := New(h, h.Presence, src, pool, acceptTimer, matchTimer, 2, zap.NewNop().Sugar())
	return o, h
}

func mustRegisterAndFriend(t *testing.T, h *handlers.Handlers, a, b string) {
	t.Helper()
	if err := h.Register(context.Background(), a, "pw"); err != nil {
		t.Fatalf("Register(%s): %v", a, err)
	}
	if err := h.Register(context.Background(), b, "pw"); err != nil {
		t.Fatalf("Register(%s): %v", b, err)
	}
	if got := h.AddFriend(context.Background(), a, b); got != fmt.Sprintf("%s is now your friend.", b) {
		t.Fatalf("AddFriend: %q", got)
	}
}

func TestChallengeSelfRejected(t *testing.T) {
	o, h := newTestOrchestrator(t, time.Second, time.Second)
	h.Register(context.Background(), "alice", "pw")

	got := o.Challenge(context.Background(), "alice", "alice")
	if got != "Match error: you cannot challenge yourself." {
		t.Fatalf("Challenge(self) = %q", got)
	}
}

func TestChallengeNonFriendRejected(t *testing.T) {
	o, h := newTestOrchestrator(t, time.Second, time.Second)
	h.Register(context.Background(), "alice", "pw")
	h.Register(context.Background(), "bob", "pw")

	got := o.Challenge(context.Background(), "alice", "bob")
	if got != "Match error: you and bob are not friends." {
		t.Fatalf("Challenge(non-friend) = %q", got)
	}
}

func TestChallengeOfflineFriendRejected(t *testing.T) {
	o, h := newTestOrchestrator(t, time.Second, time.Second)
	mustRegisterAndFriend(t, h, "alice", "bob")

	got := o.Challenge(context.Background(), "alice", "bob")
	if got != "Match error: bob is offline." {
		t.Fatalf("Challenge(offline friend) = %q", got)
	}
}

func TestChallengeTimesOutWithoutReply(t *testing.T) {
	o, h := newTestOrchestrator(t, 100*time.Millisecond, time.Second)
	mustRegisterAndFriend(t, h, "alice", "bob")

	bobUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer bobUDP.Close()
	if err := h.Presence.Bind("bob-conn", "bob", bobUDP.LocalAddr()); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	got := o.Challenge(context.Background(), "alice", "bob")
	if got != "Match error: invitation to bob timed out." {
		t.Fatalf("Challenge(no reply) = %q", got)
	}
}

// TestChallengeFullDuel mirrors the full-duel scenario: alice answers
// both words correctly (4 points), bob gets one right and one wrong (1
// point), and alice's strictly higher score earns the +3 winner bonus.
func TestChallengeFullDuel(t *testing.T) {
	o, h := newTestOrchestrator(t, 2*time.Second, 3*time.Second)
	mustRegisterAndFriend(t, h, "alice", "bob")

	bobUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer bobUDP.Close()
	if err := h.Presence.Bind("bob-conn", "bob", bobUDP.LocalAddr()); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	aliceUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer aliceUDP.Close()
	if err := h.Presence.Bind("alice-conn", "alice", aliceUDP.LocalAddr()); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	bobFinal := make(chan string, 1)
	bobErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		n, from, err := bobUDP.ReadFromUDP(buf)
		if err != nil {
			bobErr <- fmt.Errorf("bob read invite: %w", err)
			return
		}
		parts := strings.SplitN(string(buf[:n]), "/", 2)
		if len(parts) != 2 {
			bobErr <- fmt.Errorf("bob: malformed invite %q", buf[:n])
			return
		}
		port := parts[1]

		if _, err := bobUDP.WriteToUDP([]byte("Y"), from); err != nil {
			bobErr <- fmt.Errorf("bob write accept: %w", err)
			return
		}
		// Over loopback both peers share one IP, so the rendezvous match
		// is accept-order-sensitive; this delay lets alice's dial (which
		// only starts once Challenge() unblocks on this "Y") land first.
		time.Sleep(50 * time.Millisecond)

		conn, err := net.Dial("tcp", "127.0.0.1:"+port)
		if err != nil {
			bobErr <- fmt.Errorf("bob dial duel port: %w", err)
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		fmt.Fprintln(conn, "START/bob")
		word1, _ := reader.ReadString('\n')
		_ = word1
		fmt.Fprintln(conn, "house/bob")
		word2, _ := reader.ReadString('\n')
		_ = word2
		fmt.Fprintln(conn, "cat/bob")
		final, err := reader.ReadString('\n')
		if err != nil {
			bobErr <- fmt.Errorf("bob read final: %w", err)
			return
		}
		bobFinal <- strings.TrimSpace(final)
	}()

	reply := o.Challenge(context.Background(), "alice", "bob")
	wantPrefix := "bob accepted your match invitation./"
	if !strings.HasPrefix(reply, wantPrefix) {
		t.Fatalf("Challenge reply = %q, want prefix %q", reply, wantPrefix)
	}
	port := strings.TrimPrefix(reply, wantPrefix)

	conn, err := net.Dial("tcp", "127.0.0.1:"+port)
	if err != nil {
		t.Fatalf("alice dial duel port: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	fmt.Fprintln(conn, "START/alice")
	reader.ReadString('\n')
	fmt.Fprintln(conn, "house/alice")
	reader.ReadString('\n')
	fmt.Fprintln(conn, "dog/alice")
	aliceFinal, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("alice read final: %v", err)
	}
	aliceFinal = strings.TrimSpace(aliceFinal)

	if aliceFinal != "END/You have scored: 7 points. You won." {
		t.Fatalf("alice final = %q", aliceFinal)
	}

	select {
	case got := <-bobFinal:
		if got != "END/You have scored: 1 points. You lost." {
			t.Fatalf("bob final = %q", got)
		}
	case err := <-bobErr:
		t.Fatalf("bob goroutine failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for bob's final message")
	}

	time.Sleep(100 * time.Millisecond) // let the orchestrator's score persistence complete.

	aliceRec, err := h.Users.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get(alice): %v", err)
	}
	if aliceRec.Score != 7 {
		t.Fatalf("alice persisted score = %d, want 7", aliceRec.Score)
	}
	bobRec, err := h.Users.Get(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Get(bob): %v", err)
	}
	if bobRec.Score != 1 {
		t.Fatalf("bob persisted score = %d, want 1", bobRec.Score)
	}
}

// TestChallengeCrashMidDuel mirrors S6: bob's duel socket closes before he
// answers any word, so his remaining answers score as blanks while
// alice's score is computed normally and the winner bonus still applies.
func TestChallengeCrashMidDuel(t *testing.T) {
	o, h := newTestOrchestrator(t, 2*time.Second, 3*time.Second)
	mustRegisterAndFriend(t, h, "alice", "bob")

	bobUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer bobUDP.Close()
	if err := h.Presence.Bind("bob-conn", "bob", bobUDP.LocalAddr()); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	aliceUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer aliceUDP.Close()
	if err := h.Presence.Bind("alice-conn", "alice", aliceUDP.LocalAddr()); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	bobErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		n, from, err := bobUDP.ReadFromUDP(buf)
		if err != nil {
			bobErr <- fmt.Errorf("bob read invite: %w", err)
			return
		}
		parts := strings.SplitN(string(buf[:n]), "/", 2)
		if len(parts) != 2 {
			bobErr <- fmt.Errorf("bob: malformed invite %q", buf[:n])
			return
		}
		port := parts[1]

		if _, err := bobUDP.WriteToUDP([]byte("Y"), from); err != nil {
			bobErr <- fmt.Errorf("bob write accept: %w", err)
			return
		}
		time.Sleep(50 * time.Millisecond)

		conn, err := net.Dial("tcp", "127.0.0.1:"+port)
		if err != nil {
			bobErr <- fmt.Errorf("bob dial duel port: %w", err)
			return
		}
		conn.Close() // crash before answering, or even starting, any word.
		bobErr <- nil
	}()

	reply := o.Challenge(context.Background(), "alice", "bob")
	wantPrefix := "bob accepted your match invitation./"
	if !strings.HasPrefix(reply, wantPrefix) {
		t.Fatalf("Challenge reply = %q, want prefix %q", reply, wantPrefix)
	}
	port := strings.TrimPrefix(reply, wantPrefix)

	// As in TestChallengeFullDuel, alice dials before bob (who waits 50ms
	// after accepting) so the loopback rendezvous gives her the challenger
	// slot.
	conn, err := net.Dial("tcp", "127.0.0.1:"+port)
	if err != nil {
		t.Fatalf("alice dial duel port: %v", err)
	}
	defer conn.Close()
	if err := <-bobErr; err != nil {
		t.Fatalf("bob goroutine failed: %v", err)
	}

	reader := bufio.NewReader(conn)
	fmt.Fprintln(conn, "START/alice")
	reader.ReadString('\n')
	fmt.Fprintln(conn, "house/alice")
	reader.ReadString('\n')
	fmt.Fprintln(conn, "dog/alice")
	aliceFinal, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("alice read final: %v", err)
	}
	aliceFinal = strings.TrimSpace(aliceFinal)

	if aliceFinal != "END/You have scored: 7 points. You won." {
		t.Fatalf("alice final = %q", aliceFinal)
	}

	time.Sleep(100 * time.Millisecond) // let the orchestrator's score persistence complete.

	aliceRec, err := h.Users.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get(alice): %v", err)
	}
	if aliceRec.Score != 7 {
		t.Fatalf("alice persisted score = %d, want 7", aliceRec.Score)
	}
	bobRec, err := h.Users.Get(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Get(bob): %v", err)
	}
	if bobRec.Score != 0 {
		t.Fatalf("bob persisted score = %d, want 0 after crashing with no answers", bobRec.Score)
	}
}
