package operations_test

import (
	"context"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"rpb/operations"
	"rpb/store"
)

var _ = Describe("Key and value generation", func() {
	Context("KeyGenerator", func() {
		It("Should derive keys from an increasing counter", func() {
			kg := operations.NewKeyGenerator("k:", 1)

			Expect(kg.Next()).To(Equal("k:2"))
			Expect(kg.Next()).To(Equal("k:3"))
			Expect(kg.Issued()).To(Equal(int64(2)))

			kg.Reset()
			Expect(kg.Issued()).To(Equal(int64(0)))
			Expect(kg.Next()).To(Equal("k:2"))
		})

		It("Should hand out distinct keys to concurrent callers", func() {
			const workers = 200
			const perWorker = 50

			kg := operations.NewKeyGenerator("", 0)
			keys := make(chan string, workers*perWorker)
			wg := sync.WaitGroup{}

			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < perWorker; j++ {
						keys <- kg.Next()
					}
				}()
			}
			wg.Wait()
			close(keys)

			seen := make(map[string]bool, workers*perWorker)
			for k := range keys {
				Expect(seen).NotTo(HaveKey(k))
				seen[k] = true
			}
			Expect(seen).To(HaveLen(workers * perWorker))
			Expect(kg.Issued()).To(Equal(int64(workers * perWorker)))
		})
	})

	Context("ValueGenerator", func() {
		It("Should produce alphabetic values of the configured size", func() {
			vg := operations.NewValueGenerator(100)
			value := vg.Next()

			Expect(value).To(HaveLen(100))
			Expect(value).To(MatchRegexp("^[a-zA-Z]+$"))
		})

		It("Should fall back to the default size", func() {
			Expect(operations.NewValueGenerator(0).Next()).To(HaveLen(operations.DefaultValueSize))
		})
	})
})

var _ = Describe("Runners", func() {
	var server *miniredis.Miniredis
	var ctx context.Context
	var results chan *operations.OperationResult
	config := &operations.RunConfig{}

	open := func(transactional bool) store.Handle {
		handle, err := store.Open(ctx, store.EndpointConfig{
			Client:        store.ClientGoRedis,
			Topology:      store.TopologySingle,
			Addrs:         []string{server.Addr()},
			Pool:          store.PoolConfig{MaxTotal: 2},
			Transactional: transactional,
		})
		Expect(err).NotTo(HaveOccurred())
		return handle
	}

	BeforeEach(func() {
		var err error
		server, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
		results = make(chan *operations.OperationResult, 1)
	})

	AfterEach(func() {
		server.Close()
	})

	It("Should leave no key behind in discrete mode", func() {
		handle := open(false)
		defer handle.Close()

		operations.NewDiscreteBenchmark(config).DoOneOperation(ctx, handle, results, "1", "value")

		r := <-results
		Expect(r.Operation).To(Equal(operations.DISCRETE))
		Expect(r.Err).NotTo(HaveOccurred())
		Expect(r.Latency).To(BeNumerically(">", 0))
		Expect(server.Exists("1")).To(BeFalse())
		Expect(server.CommandCount()).To(BeNumerically(">=", 3))
	})

	for _, tx := range []bool{false, true} {
		transactional := tx

		It("Should leave no key behind in pipelined mode", func() {
			handle := open(transactional)
			defer handle.Close()

			operations.NewPipelinedBenchmark(config).DoOneOperation(ctx, handle, results, "2", "value")

			r := <-results
			Expect(r.Operation).To(Equal(operations.PIPELINED))
			Expect(r.Err).NotTo(HaveOccurred())
			Expect(server.Exists("2")).To(BeFalse())
		})
	}

	It("Should report a failed operation instead of panicking", func() {
		handle := open(false)
		server.Close()

		operations.NewDiscreteBenchmark(config).DoOneOperation(ctx, handle, results, "3", "value")
		_ = handle.Close()

		r := <-results
		Expect(r.Err).To(HaveOccurred())
	})

	It("Should ping", func() {
		handle := open(false)
		defer handle.Close()

		operations.NewPingBenchmark(config).DoOneOperation(ctx, handle, results, "", "")
		Expect((<-results).Err).NotTo(HaveOccurred())
	})
})

var _ = Describe("Emit", func() {
	It("Should give up once the context is done", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := make(chan *operations.OperationResult)
		done := make(chan bool)
		go func() {
			done <- operations.Emit(ctx, results, &operations.OperationResult{Operation: "x"})
		}()

		Eventually(done, time.Second).Should(Receive(BeFalse()))
	})

	It("Should deliver while the context is live", func() {
		results := make(chan *operations.OperationResult, 1)
		Expect(operations.Emit(context.Background(), results, &operations.OperationResult{Operation: "x"})).To(BeTrue())
		Expect((<-results).Operation).To(Equal("x"))
	})
})
