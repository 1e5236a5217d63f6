package client_test

import (
	"context"
	"io"
	"net"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"go.uber.org/zap"

	"github.com/luma/parley/client"
	"github.com/luma/parley/protocol"
)

var _ = Describe("Session", func() {
	var (
		serverEnd net.Conn
		clientEnd net.Conn

		input  *io.PipeWriter
		output *gbytes.Buffer

		cancel context.CancelFunc
		done   chan error
	)

	BeforeEach(func() {
		serverEnd, clientEnd = net.Pipe()

		var inputReader *io.PipeReader
		inputReader, input = io.Pipe()
		output = gbytes.NewBuffer()

		conn := client.Wrap("alice", clientEnd, zap.NewNop())
		sess := client.NewSession(conn, inputReader, output, zap.NewNop())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		done = make(chan error, 1)
		go func() {
			done <- sess.Run(ctx)
			close(done)
		}()

		Eventually(output).Should(gbytes.Say(`\$: `))
	})

	AfterEach(func() {
		cancel()
		input.Close()
		serverEnd.Close()
		clientEnd.Close()
		Eventually(done).Should(BeClosed())
	})

	typeLine := func(line string) {
		_, err := io.WriteString(input, line+"\n")
		Expect(err).To(Succeed())
	}

	It("sends a unicast for %M", func() {
		typeLine("%M bob hi there")

		payload, err := protocol.RecvPDU(serverEnd, protocol.MaxPayload)
		Expect(err).To(Succeed())

		want, err := (&protocol.Unicast{Sender: "alice", Dest: "bob", Text: "hi there"}).Marshal()
		Expect(err).To(Succeed())
		Expect(payload).To(Equal(want))

		Eventually(output).Should(gbytes.Say(`\$: `))
	})

	It("sends a broadcast for %B", func() {
		typeLine("%B hello everyone")

		payload, err := protocol.RecvPDU(serverEnd, protocol.MaxPayload)
		Expect(err).To(Succeed())

		want, err := (&protocol.Broadcast{Sender: "alice", Text: "hello everyone"}).Marshal()
		Expect(err).To(Succeed())
		Expect(payload).To(Equal(want))
	})

	It("sends a roster request for %L", func() {
		typeLine("%L")

		payload, err := protocol.RecvPDU(serverEnd, protocol.MaxPayload)
		Expect(err).To(Succeed())
		Expect(payload).To(Equal([]byte{byte(protocol.FlagListRequest)}))
	})

	It("prints Invalid command for junk and reprompts", func() {
		typeLine("nonsense")

		Eventually(output).Should(gbytes.Say("Invalid command"))
		Eventually(output).Should(gbytes.Say(`\$: `))
	})

	It("answers %H locally", func() {
		typeLine("%H")

		Eventually(output).Should(gbytes.Say(`%M dest`))
		Eventually(output).Should(gbytes.Say(`\$: `))
	})

	It("reprompts on an empty line without sending", func() {
		typeLine("")

		Eventually(output).Should(gbytes.Say(`\$: `))
	})

	It("prints inbound messages as sender: text", func() {
		Expect(protocol.WriteMessage(serverEnd, &protocol.Broadcast{
			Sender: "bob",
			Text:   "hi all",
		})).To(Succeed())

		Eventually(output).Should(gbytes.Say(`bob: hi all\n`))
		Eventually(output).Should(gbytes.Say(`\$: `))
	})

	It("prints the unknown destination error line", func() {
		Expect(protocol.WriteMessage(serverEnd, &protocol.UnknownDest{
			Handle: "carol",
		})).To(Succeed())

		Eventually(output).Should(gbytes.Say(`Client with handle carol does not exist\.\n`))
	})

	It("assembles a roster reply in order", func() {
		Expect(protocol.WriteMessage(serverEnd, &protocol.ListHeader{Count: 3})).To(Succeed())
		Expect(protocol.WriteMessage(serverEnd, &protocol.ListEntry{Handle: "alice"})).To(Succeed())
		Expect(protocol.WriteMessage(serverEnd, &protocol.ListEntry{Handle: "bob"})).To(Succeed())
		Expect(protocol.WriteMessage(serverEnd, &protocol.ListEntry{Handle: "carol"})).To(Succeed())
		Expect(protocol.WriteMessage(serverEnd, &protocol.ListEnd{})).To(Succeed())

		Eventually(output).Should(gbytes.Say(`Number of clients: 3\nalice\nbob\ncarol\n`))
		Eventually(output).Should(gbytes.Say(`\$: `))
	})

	It("prints Server Terminated and exits cleanly when the server goes away", func() {
		serverEnd.Close()

		Eventually(output).Should(gbytes.Say(`Server Terminated`))
		Eventually(done).Should(Receive(BeNil()))
	})

	It("exits cleanly on input EOF", func() {
		input.Close()

		Eventually(done).Should(Receive(BeNil()))
	})
})
