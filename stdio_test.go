package toolbus_test

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fluxwire/toolbus"
)

func TestStdIOFraming(t *testing.T) {
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	stdio := toolbus.NewStdIO(serverReader, serverWriter)

	sessCh := make(chan toolbus.Session, 1)
	go func() {
		for sess := range stdio.Sessions() {
			sessCh <- sess
		}
	}()

	var sess toolbus.Session
	select {
	case sess = <-sessCh:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the stdio session")
	}

	frames := make(chan []byte, 4)
	go func() {
		for frame := range sess.Messages() {
			frames <- frame
		}
		close(frames)
	}()

	// Empty lines are not frames and must be skipped.
	go func() {
		_, _ = clientWriter.Write([]byte("\nfirst frame\n\nsecond frame\n"))
	}()

	for _, want := range []string{"first frame", "second frame"} {
		select {
		case frame := <-frames:
			if string(frame) != want {
				t.Fatalf("expected frame %q, got %q", want, frame)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %q", want)
		}
	}

	// Outbound frames are newline-terminated.
	sendErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		sendErr <- sess.Send(ctx, []byte(`{"hello":"world"}`))
	}()

	line, err := bufio.NewReader(clientReader).ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read outbound frame: %v", err)
	}
	if line != `{"hello":"world"}`+"\n" {
		t.Fatalf("unexpected outbound frame: %q", line)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("send failed: %v", err)
	}

	sess.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := stdio.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shutdown transport: %v", err)
	}
}

func TestStdIOServesProtocol(t *testing.T) {
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	stdio := toolbus.NewStdIO(serverReader, serverWriter)
	srv, err := toolbus.NewServer(
		toolbus.Info{Name: "stdio-server", Version: "1.0"},
		stdio,
		toolbus.WithToolBackend(mockToolBackend{}),
	)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	serveDone := make(chan struct{})
	go func() {
		srv.Serve()
		close(serveDone)
	}()

	client := bufio.NewReader(clientReader)
	request := func(raw string) toolbus.Envelope {
		t.Helper()
		if _, err := clientWriter.Write([]byte(raw + "\n")); err != nil {
			t.Fatalf("failed to write request: %v", err)
		}
		line, err := client.ReadString('\n')
		if err != nil {
			t.Fatalf("failed to read response: %v", err)
		}
		env, derr := toolbus.DecodeEnvelope([]byte(strings.TrimSuffix(line, "\n")))
		if derr != nil {
			t.Fatalf("response is not a valid envelope: %v (%s)", derr, line)
		}
		return env
	}

	env := request(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	if env.Error != nil {
		t.Fatalf("initialize failed: %v", env.Error)
	}

	env = request(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"message":"over stdio"}}}`)
	if env.Error != nil {
		t.Fatalf("tools/call failed: %v", env.Error)
	}
	if string(env.Result) != `"over stdio"` {
		t.Fatalf("unexpected result: %s", env.Result)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shutdown server: %v", err)
	}

	select {
	case <-serveDone:
	case <-time.After(time.Second):
		t.Fatalf("Serve did not return after shutdown")
	}
}
