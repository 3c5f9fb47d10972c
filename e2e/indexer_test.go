// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/luxfi/clob-indexer/api"
	"github.com/luxfi/clob-indexer/book"
	"github.com/luxfi/clob-indexer/config"
	"github.com/luxfi/clob-indexer/evm"
	"github.com/luxfi/clob-indexer/indexer"
	"github.com/luxfi/clob-indexer/model"
	"github.com/luxfi/clob-indexer/projector"
	"github.com/luxfi/clob-indexer/storage"
	_ "github.com/luxfi/clob-indexer/storage/kv"
	_ "github.com/luxfi/clob-indexer/storage/query"
	"github.com/luxfi/clob-indexer/tokens"
)

const (
	chainID = 10143
	// 1699999980 is a multiple of 60
	t0 = 1699999980

	usdc  = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	maker = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	taker = "0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb"
)

// e2eBackend is the store under test, sqlite unless CLOB_E2E_BACKEND is set.
func e2eBackend() storage.Backend {
	if b, err := storage.ParseBackend(os.Getenv("CLOB_E2E_BACKEND")); err == nil {
		return b
	}
	return storage.BackendSQLite
}

var _ = Describe("BookManager indexing", Ordered, func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		node    *fakeNode
		store   storage.Store
		apiSrv  *httptest.Server
		ws      *websocket.Conn
		done    chan error
		manager = config.Presets["monad-testnet"].BookManager
		bookID  = uint256.NewInt(1)
		// market: USDC base, native MON quote
		quote = model.ZeroAddress
	)

	getJSON := func(path string) (int, map[string]any) {
		GinkgoHelper()
		resp, err := http.Get(apiSrv.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.Header.Get("X-Request-ID")).NotTo(BeEmpty())
		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return resp.StatusCode, body
	}

	BeforeAll(func() {
		ctx, cancel = context.WithCancel(context.Background())

		node = newFakeNode(110)
		node.tokens[strings.ToLower(usdc)] = erc20{symbol: "USDC", name: "USD Coin", decimals: 6}

		openTopics := []string{evm.TopicOpen, "0x" + idWord(bookID), "0x" + addrWord(usdc), "0x" + addrWord(quote)}
		node.emit(manager, 101, 0, "0x01", maker, openTopics,
			uintWord(1000), uintWord(1<<23|499900), uintWord(500100), addrWord(model.ZeroAddress))

		makeTopics := []string{evm.TopicMake, "0x" + idWord(bookID), "0x" + addrWord(maker)}
		// delivered out of order; the source sorts by log index
		node.emit(manager, 102, 3, "0x02", maker, makeTopics, intWord(0), uintWord(1), uintWord(50), addrWord(model.ZeroAddress))
		node.emit(manager, 102, 1, "0x02", maker, makeTopics, intWord(0), uintWord(0), uintWord(100), addrWord(model.ZeroAddress))

		// another contract's logs are filtered out
		node.emit(usdc, 103, 0, "0x03", maker, makeTopics, intWord(0), uintWord(2), uintWord(999), addrWord(model.ZeroAddress))

		takeTopics := []string{evm.TopicTake, "0x" + idWord(bookID), "0x" + addrWord(taker)}
		node.emit(manager, 104, 0, "0x04", taker, takeTopics, intWord(0), uintWord(120))

		order0 := book.EncodeOrderID(bookID, 0, 0)
		order1 := book.EncodeOrderID(bookID, 0, 1)
		node.emit(manager, 105, 0, "0x05", maker,
			[]string{evm.TopicTransfer, "0x" + addrWord(maker), "0x" + addrWord(taker), "0x" + idWord(order1)})
		node.emit(manager, 106, 0, "0x06", maker, []string{evm.TopicClaim, "0x" + idWord(order0)}, uintWord(100))

		// beyond the confirmed head
		node.emit(manager, 109, 0, "0x09", maker, []string{evm.TopicCancel, "0x" + idWord(order1)}, uintWord(30))

		dir, err := os.MkdirTemp("", "clob-e2e")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		store, err = storage.New(storage.Config{Backend: e2eBackend(), DataDir: dir, URL: os.Getenv("CLOB_E2E_DB_URL")})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Init(ctx)).To(Succeed())

		client := evm.NewClient(node.URL(), evm.WithTimeout(5*time.Second))
		resolver, err := tokens.NewResolver(tokens.Config{ChainID: chainID}, client, nil)
		Expect(err).NotTo(HaveOccurred())

		source := evm.NewSource(client, evm.SourceConfig{
			Address:       manager,
			BatchSize:     3,
			Confirmations: 2,
			PollInterval:  50 * time.Millisecond,
		}, nil)

		hub := api.NewHub(nil)
		go hub.Run(ctx)
		apiSrv = httptest.NewServer(api.NewServer(store, hub, nil).Handler())

		ws, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(apiSrv.URL, "http")+"/api/v1/ws", nil)
		Expect(err).NotTo(HaveOccurred())
		Eventually(hub.ClientCount).Should(Equal(1))

		idx := indexer.New(indexer.Config{ChainID: chainID, StartBlock: 100},
			store, source, projector.New(store, resolver, nil), hub, nil)
		done = make(chan error, 1)
		go func() { done <- idx.Run(ctx) }()
	})

	AfterAll(func() {
		cancel()
		if done != nil {
			Eventually(done).WithTimeout(5 * time.Second).Should(Receive(MatchError(context.Canceled)))
		}
		if ws != nil {
			ws.Close()
		}
		if apiSrv != nil {
			apiSrv.Close()
		}
		if store != nil {
			Expect(store.Close()).To(Succeed())
		}
		node.Close()
	})

	It("should index up to the confirmed head", func() {
		Eventually(func() uint64 {
			c, err := storage.Find[model.Cursor](ctx, store, model.CursorID(chainID))
			if err != nil || c == nil {
				return 0
			}
			return c.BlockNumber
		}).WithTimeout(10 * time.Second).WithPolling(50 * time.Millisecond).Should(Equal(uint64(108)))
	})

	It("should resolve tokens from the table and the chain", func() {
		status, body := getJSON("/api/v1/tokens/" + strings.ToLower(usdc))
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["address"]).To(Equal(usdc))
		Expect(body["symbol"]).To(Equal("USDC"))
		Expect(body["decimals"]).To(BeEquivalentTo(6))

		status, body = getJSON("/api/v1/tokens/" + quote)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["symbol"]).To(Equal("MON"))
	})

	It("should serve the book at the last traded price", func() {
		status, body := getJSON("/api/v1/books/1")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["base"]).To(Equal(usdc))
		Expect(body["baseSymbol"]).To(Equal("USDC"))
		Expect(body["quoteDecimals"]).To(BeEquivalentTo(18))
		Expect(body["priceRaw"]).To(Equal(book.Q96.Dec()))
		Expect(body["lastTakenBlockNumber"]).To(BeEquivalentTo(104))
		Expect(body["makerFee"]).To(Equal("-0.0001"))
		Expect(body["isMakerFeeInQuote"]).To(BeTrue())
	})

	It("should fill orders first in, first out", func() {
		status, _ := getJSON("/api/v1/orders/" + book.EncodeOrderID(bookID, 0, 0).Dec())
		Expect(status).To(Equal(http.StatusNotFound), "filled and claimed order is removed")

		status, body := getJSON("/api/v1/orders/" + book.EncodeOrderID(bookID, 0, 1).Dec())
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["owner"]).To(Equal(taker))
		Expect(body["origin"]).To(Equal(maker))
		Expect(body["filledUnitAmount"]).To(Equal("20"))
		Expect(body["cancelableUnitAmount"]).To(Equal("30"), "cancel beyond the head is not applied")

		status, body = getJSON("/api/v1/books/1/depths/0")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["unitAmount"]).To(Equal("30"))
		Expect(body["latestTakenOrderIndex"]).To(BeEquivalentTo(1))
		Expect(body["nextOrderIndex"]).To(BeEquivalentTo(2))
	})

	It("should chart the take", func() {
		status, body := getJSON("/api/v1/charts/" + usdc + "/" + quote + "/1m?from=1699999980&to=1700000100")
		Expect(status).To(Equal(http.StatusOK))
		items := body["items"].([]any)
		Expect(items).To(HaveLen(1))
		c := items[0].(map[string]any)
		Expect(c["timestamp"]).To(BeEquivalentTo(blockTime(104) / 60 * 60))
		Expect(c["baseVolume"]).To(Equal("0.12"))
	})

	It("should stream committed events", func() {
		var kinds []string
		Expect(ws.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
		for len(kinds) < 6 {
			var msg api.Message
			Expect(ws.ReadJSON(&msg)).To(Succeed())
			if msg.Type == "connected" || msg.Type == "heartbeat" {
				continue
			}
			kinds = append(kinds, msg.Type)
		}
		Expect(kinds).To(Equal([]string{"open", "make", "make", "take", "transfer", "claim"}))
	})
})

var _ = Describe("Live node", func() {
	It("should read BookManager logs", func() {
		url := os.Getenv("CLOB_E2E_RPC")
		if url == "" {
			Skip("CLOB_E2E_RPC not set")
		}
		cfg := config.Default("monad-testnet")
		if addr := os.Getenv("CLOB_E2E_BOOK_MANAGER"); addr != "" {
			cfg.Chain.BookManager = addr
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		client := evm.NewClient(url)
		head, err := client.BlockNumber(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(head).To(BeNumerically(">", 0))

		from := uint64(0)
		if head > 100 {
			from = head - 100
		}
		source := evm.NewSource(client, evm.SourceConfig{Address: cfg.Chain.BookManager}, nil)
		batch, err := source.Fetch(ctx, from, head)
		Expect(err).NotTo(HaveOccurred())
		for _, ev := range batch.Events {
			Expect(ev.Metadata().Block.Number).To(BeNumerically(">=", from))
			Expect(ev.Metadata().Block.Timestamp).To(BeNumerically(">", 0))
		}
	})
})
