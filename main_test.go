package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"rpb/store"
)

var _ = Describe("Processing test operations", func() {
	Context("processOptions with single test operation", func() {
		It("Should produce a single test with distribution of 1", func() {
			args := []string{"-t", "discrete", "-h", "foo:1,bar:2"}
			testName, options, err := processOptions(args)

			Expect(err).NotTo(HaveOccurred())
			Expect(testName).To(Equal(map[string]int{"discrete": 1}))
			Expect(options.Endpoint.Addrs).To(Equal([]string{"foo:1", "bar:2"}))
		})
	})

	Context("processOptions with multiple test operations without distributions", func() {
		It("Should produce multiple tests with default distributions of 1", func() {
			args := []string{"-t", "discrete,pipelined"}
			testName, _, err := processOptions(args)

			Expect(err).NotTo(HaveOccurred())
			Expect(testName).To(Equal(map[string]int{"discrete": 1, "pipelined": 1}))
		})
	})

	Context("processOptions with multiple test operations with distributions", func() {
		It("Should produce multiple tests with correct distributions", func() {
			args := []string{"-t", "normal:1,pipeline:3"}
			testName, _, err := processOptions(args)

			Expect(err).NotTo(HaveOccurred())
			Expect(testName).To(Equal(map[string]int{"pipelined": 3, "discrete": 1}))
		})
	})

	Context("processOptions with all", func() {
		It("Should expand to correct tests with correct distributions", func() {
			args := []string{"-t", "all:2"}
			testName, _, err := processOptions(args)

			Expect(err).NotTo(HaveOccurred())
			Expect(testName).To(Equal(map[string]int{"discrete": 2, "pipelined": 2}))
		})
	})

	Context("processOptions defaults", func() {
		It("Should use 1000 operations over 200 workers with a 20s deadline", func() {
			_, options, err := processOptions(nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(options.RunConfig.Iterations).To(Equal(1000))
			Expect(options.RunConfig.ClientCount).To(Equal(200))
			Expect(options.RunConfig.Deadline).To(Equal(20 * time.Second))
			Expect(options.RunConfig.ValueSize).To(Equal(20))
			Expect(options.RunConfig.WarmupPings).To(Equal(5))
			Expect(options.Trials).To(Equal(1))
			Expect(options.Endpoint.Name).To(Equal(store.ProfileDirect))
			Expect(options.Endpoint.Transactional).To(BeFalse())
		})
	})

	Context("processOptions with profile overrides", func() {
		It("Should apply only the flags that were given", func() {
			args := []string{"-profile", "cluster", "-tx", "-pool-max", "8", "-pool-min-idle", "2"}
			_, options, err := processOptions(args)

			Expect(err).NotTo(HaveOccurred())
			Expect(options.Endpoint.Topology).To(Equal(store.TopologyCluster))
			Expect(options.Endpoint.Addrs).To(Equal([]string{"0.0.0.0:7000"}))
			Expect(options.Endpoint.Transactional).To(BeTrue())
			Expect(options.Endpoint.Pool).To(Equal(store.PoolConfig{MaxTotal: 8, MinIdle: 2, MaxIdle: 50}))
		})

		It("Should read profiles from a file", func() {
			dir, err := os.MkdirTemp("", "rpb")
			Expect(err).NotTo(HaveOccurred())
			defer os.RemoveAll(dir)

			path := filepath.Join(dir, "profiles.yml")
			Expect(os.WriteFile(path, []byte("profiles:\n  lab:\n    client: redigo\n    topology: single\n    addrs: [\"10.1.1.1:6379\"]\n    pool:\n      max_total: 4\n"), 0o644)).To(Succeed())

			_, options, err := processOptions([]string{"-profiles", path, "-profile", "lab"})
			Expect(err).NotTo(HaveOccurred())
			Expect(options.Endpoint.Client).To(Equal(store.ClientRedigo))
			Expect(options.Endpoint.Pool.MaxTotal).To(Equal(4))
		})
	})

	Context("processOptions with bad input", func() {
		It("Should reject bad weights", func() {
			_, _, err := processOptions([]string{"-t", "discrete:zero"})
			Expect(err).To(HaveOccurred())
		})

		It("Should reject unknown profiles", func() {
			_, _, err := processOptions([]string{"-profile", "jedis"})
			Expect(err).To(MatchError(ContainSubstring("unknown profile")))
		})

		It("Should reject an empty workload", func() {
			_, _, err := processOptions([]string{"-i", "0"})
			Expect(err).To(HaveOccurred())
		})

		It("Should report help", func() {
			_, _, err := processOptions([]string{"-help"})
			Expect(err).To(Equal(flag.ErrHelp))
		})
	})
})

var _ = Describe("Running from options", func() {
	var server *miniredis.Miniredis

	BeforeEach(func() {
		var err error
		server, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("Should run a single benchmark and print its summary", func() {
		testOpDistribution, options, err := processOptions([]string{
			"-h", server.Addr(), "-t", "all", "-i", "200", "-c", "20", "-warmup-pause", "0",
		})
		Expect(err).NotTo(HaveOccurred())

		out := &bytes.Buffer{}
		Expect(run(context.Background(), testOpDistribution, options, out)).To(Succeed())

		Expect(out.String()).To(ContainSubstring("Summary for: discrete"))
		Expect(out.String()).To(ContainSubstring("Summary for: pipelined"))
		Expect(out.String()).To(ContainSubstring("Completed:  200"))
		Expect(server.Keys()).To(BeEmpty())
	})

	It("Should run trials and print the statistics table", func() {
		testOpDistribution, options, err := processOptions([]string{
			"-h", server.Addr(), "-profile", "redigo", "-tx", "-t", "pipelined", "-i", "100", "-c", "10",
			"-trials", "3", "-cooldown", "0", "-warmup", "1",
		})
		Expect(err).NotTo(HaveOccurred())

		out := &bytes.Buffer{}
		Expect(run(context.Background(), testOpDistribution, options, out)).To(Succeed())

		Expect(out.String()).To(ContainSubstring("pipelined:1"))
		Expect(out.String()).To(ContainSubstring("thrpt"))
		Expect(out.String()).To(ContainSubstring("avgt"))
	})

	It("Should fail when the store is unreachable", func() {
		addr := server.Addr()
		server.Close()

		testOpDistribution, options, err := processOptions([]string{"-h", addr, "-i", "10", "-c", "1"})
		Expect(err).NotTo(HaveOccurred())
		options.Endpoint.DialTimeout = 200 * time.Millisecond

		err = run(context.Background(), testOpDistribution, options, io.Discard)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("connect " + addr))
	})
})
