package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blukai/dogfight/internal/transport"
	"github.com/blukai/dogfight/internal/transport/memory"
	"github.com/matryer/is"
)

func TestPipeOrdering(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a, b := memory.NewNetwork().Pipe()
	for i := 0; i < 100; i++ {
		is.NoErr(a.Send([]byte{byte(i)}))
	}
	for i := 0; i < 100; i++ {
		frame, err := b.Recv(ctx)
		is.NoErr(err)
		is.Equal(frame[0], byte(i))
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a, b := memory.NewNetwork().Pipe()
	is.NoErr(a.Send([]byte("last words")))
	is.NoErr(a.Close())

	frame, err := b.Recv(ctx)
	is.NoErr(err)
	is.Equal(string(frame), "last words")

	_, err = b.Recv(ctx)
	is.True(errors.Is(err, transport.ErrClosed))

	err = b.Send([]byte("too late"))
	is.True(errors.Is(err, transport.ErrClosed))
}

func TestDialAccept(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	network := memory.NewNetwork()
	ln, err := network.Listen("abc234")
	is.NoErr(err)
	defer ln.Close()

	_, err = network.Listen("ABC234")
	is.True(err != nil) // token already taken

	clientLink, err := network.Dial(ctx, "ABC234")
	is.NoErr(err)

	hostLink, err := ln.Accept(ctx)
	is.NoErr(err)
	is.Equal(hostLink.RemoteAddr(), "mem-1-a")

	is.NoErr(clientLink.Send([]byte("hi")))
	frame, err := hostLink.Recv(ctx)
	is.NoErr(err)
	is.Equal(string(frame), "hi")

	_, err = network.Dial(ctx, "ZZZZZZ")
	is.True(errors.Is(err, transport.ErrUnknownToken))
}

func TestRecvHonoursContext(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, b := memory.NewNetwork().Pipe()
	_, err := b.Recv(ctx)
	is.True(errors.Is(err, context.DeadlineExceeded))
}
