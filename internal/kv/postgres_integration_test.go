// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Zenith Contributors

//go:build integration

package kv_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/zenithweb/zenith/internal/kv"
)

// Requires a scratch database; set TEST_DATABASE_URL to run.
var _ = Describe("PostgresStore", func() {
	var (
		ctx   context.Context
		store *kv.PostgresStore
	)

	BeforeEach(func() {
		dsn := os.Getenv("TEST_DATABASE_URL")
		if dsn == "" {
			Skip("TEST_DATABASE_URL not set")
		}

		ctx = context.Background()

		migrator, err := kv.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		DeferCleanup(func() {
			Expect(migrator.Down()).To(Succeed())
			Expect(migrator.Close()).To(Succeed())
		})

		store, err = kv.NewPostgresStore(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)
	})

	It("round-trips values", func() {
		Expect(store.Set(ctx, "greeting", []byte("hello"), 0)).To(Succeed())
		value, err := store.Get(ctx, "greeting")
		Expect(err).NotTo(HaveOccurred())
		Expect(value).To(Equal([]byte("hello")))
	})

	It("expires entries after their TTL", func() {
		Expect(store.Set(ctx, "blink", []byte("v"), 50*time.Millisecond)).To(Succeed())
		Eventually(func() error {
			_, err := store.Get(ctx, "blink")
			return err
		}).WithTimeout(2 * time.Second).Should(MatchError(kv.ErrKeyNotFound))
	})

	It("grants SetNX to exactly one concurrent caller", func() {
		const racers = 16
		wins := make(chan bool, racers)
		for i := 0; i < racers; i++ {
			go func() {
				ok, err := store.SetNX(ctx, "contested", []byte("v"))
				Expect(err).NotTo(HaveOccurred())
				wins <- ok
			}()
		}

		var granted int
		for i := 0; i < racers; i++ {
			if <-wins {
				granted++
			}
		}
		Expect(granted).To(Equal(1))
	})

	It("increments counters atomically", func() {
		first, err := store.Incr(ctx, "counter")
		Expect(err).NotTo(HaveOccurred())
		second, err := store.Incr(ctx, "counter")
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first + 1))
	})
})
