package store_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/darc-project/darc/cmn"
	"github.com/darc-project/darc/link"
	"github.com/darc-project/darc/store"
)

var _ = Describe("WorkStore (SQL backend)", func() {
	var (
		ctx context.Context
		cfg *cmn.Config
		ws  store.WorkStore
		dir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		dir, err = os.MkdirTemp("", "darc-store-*")
		Expect(err).NotTo(HaveOccurred())
		cfg, err = cmn.LoadConfig()
		Expect(err).NotTo(HaveOccurred())
		cfg.DBURL = filepath.Join(dir, "darc.db")
		cfg.TimeCache = 0 // deterministic tests: claims are not held
		cmn.GCOPut(cfg)
		ws, err = store.New(cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(ws.Close()).To(Succeed())
		os.RemoveAll(dir)
	})

	It("dedupes two equal links enqueued in one batch", func() {
		a, err := link.Parse("http://a.example/", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(ws.SaveRequests(ctx, []*link.Link{a, a}, 0, true)).To(Succeed())

		got, err := ws.LoadRequests(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].URLHash).To(Equal(a.URLHash))
	})

	It("leaves the first-seen score in place under nx=true", func() {
		future := float64(time.Now().Add(time.Hour).Unix())
		a, _ := link.Parse("http://b.example/", nil)
		Expect(ws.SaveRequests(ctx, []*link.Link{a}, future, true)).To(Succeed())
		Expect(ws.SaveRequests(ctx, []*link.Link{a}, 0, true)).To(Succeed())

		// nx=true must not have overwritten the future first-seen score
		// with the second call's score=0 ("ready now"); it should still
		// not be claimable.
		got, err := ws.LoadRequests(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
	})

	It("claims at most one entry per URL hash at a time", func() {
		a, _ := link.Parse("http://c.example/", nil)
		Expect(ws.SaveRequests(ctx, []*link.Link{a}, 0, true)).To(Succeed())

		first, err := ws.LoadRequests(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(HaveLen(1))

		second, err := ws.LoadRequests(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(BeEmpty())
	})

	It("accepts a history row append", func() {
		a, _ := link.Parse("http://d.example/", nil)
		rec := store.HistoryRecord{URLHash: a.URLHash, Timestamp: 1, Method: "GET", StatusCode: 200, Outcome: cmn.KindOK}
		Expect(ws.AppendHistory(ctx, rec)).To(Succeed())
	})
})
