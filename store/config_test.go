package store_test

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"rpb/store"
)

var _ = Describe("Endpoint configuration", func() {
	valid := func() store.EndpointConfig {
		return store.EndpointConfig{
			Client:   store.ClientGoRedis,
			Topology: store.TopologySingle,
			Addrs:    []string{"localhost:6379"},
			Pool:     store.PoolConfig{MaxTotal: 10, MinIdle: 5, MaxIdle: 10},
		}
	}

	Context("Validate", func() {
		It("Should accept a complete config", func() {
			Expect(valid().Validate()).To(Succeed())
		})

		It("Should reject bad configs", func() {
			cases := map[string]func(*store.EndpointConfig){
				"no addrs":         func(c *store.EndpointConfig) { c.Addrs = nil },
				"missing port":     func(c *store.EndpointConfig) { c.Addrs = []string{"localhost"} },
				"zero pool":        func(c *store.EndpointConfig) { c.Pool.MaxTotal = 0 },
				"min over max":     func(c *store.EndpointConfig) { c.Pool.MinIdle = 11 },
				"negative idle":    func(c *store.EndpointConfig) { c.Pool.MaxIdle = -1 },
				"unknown client":   func(c *store.EndpointConfig) { c.Client = "jedis" },
				"unknown topology": func(c *store.EndpointConfig) { c.Topology = "ring" },
				"redigo cluster": func(c *store.EndpointConfig) {
					c.Client = store.ClientRedigo
					c.Topology = store.TopologyCluster
				},
			}

			for name, mutate := range cases {
				cfg := valid()
				mutate(&cfg)
				err := cfg.Validate()
				Expect(err).To(HaveOccurred(), name)
				Expect(errors.Is(err, store.ErrInvalidConfig)).To(BeTrue(), name)
			}
		})
	})

	Context("ResolveAddresses", func() {
		It("Should keep literal ipv4 addresses", func() {
			addrs, err := store.ResolveAddresses([]string{"127.0.0.1:7000", "127.0.0.1:7001"})
			Expect(err).NotTo(HaveOccurred())
			Expect(addrs).To(Equal([]string{"127.0.0.1:7000", "127.0.0.1:7001"}))
		})

		It("Should fail on a malformed address", func() {
			_, err := store.ResolveAddresses([]string{"no-port"})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Profiles", func() {
		It("Should provide the built-in profiles", func() {
			profiles := store.DefaultProfiles()
			Expect(profiles.Names()).To(Equal([]string{"cluster", "direct", "redigo"}))

			cluster, err := profiles.Get(store.ProfileCluster)
			Expect(err).NotTo(HaveOccurred())
			Expect(cluster.Topology).To(Equal(store.TopologyCluster))
			Expect(cluster.Addrs).To(Equal([]string{"0.0.0.0:7000"}))
			Expect(cluster.Pool).To(Equal(store.PoolConfig{MaxTotal: 50, MinIdle: 50, MaxIdle: 50}))
		})

		It("Should fail for an unknown profile", func() {
			_, err := store.DefaultProfiles().Get("jedis")
			Expect(err).To(MatchError(ContainSubstring("unknown profile")))
		})

		It("Should not share address slices with the caller", func() {
			profiles := store.DefaultProfiles()
			direct, _ := profiles.Get(store.ProfileDirect)
			direct.Addrs[0] = "elsewhere:1"

			again, _ := profiles.Get(store.ProfileDirect)
			Expect(again.Addrs).To(Equal([]string{"localhost:6379"}))
		})

		It("Should load YAML profiles and merge them over the defaults", func() {
			dir, err := os.MkdirTemp("", "profiles")
			Expect(err).NotTo(HaveOccurred())
			defer os.RemoveAll(dir)

			path := filepath.Join(dir, "profiles.yaml")
			content := `
profiles:
  direct:
    client: redigo
    topology: single
    addrs: ["10.0.0.1:6379"]
    transactional: true
    dial_timeout: 2s
    pool:
      max_total: 8
      min_idle: 2
  lab:
    client: go-redis
    topology: cluster
    addrs: ["10.0.0.2:7000", "10.0.0.3:7000"]
    pool:
      max_total: 16
`
			Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

			loaded, err := store.LoadProfiles(path)
			Expect(err).NotTo(HaveOccurred())

			profiles := store.DefaultProfiles().Merge(loaded)
			Expect(profiles.Names()).To(Equal([]string{"cluster", "direct", "lab", "redigo"}))

			direct, err := profiles.Get("direct")
			Expect(err).NotTo(HaveOccurred())
			Expect(direct.Client).To(Equal(store.ClientRedigo))
			Expect(direct.Transactional).To(BeTrue())
			Expect(direct.DialTimeout).To(Equal(2 * time.Second))
			Expect(direct.Pool.MaxTotal).To(Equal(8))

			lab, err := profiles.Get("lab")
			Expect(err).NotTo(HaveOccurred())
			Expect(lab.Name).To(Equal("lab"))
			Expect(lab.Addrs).To(HaveLen(2))
		})

		It("Should read durations from a JSON profiles file", func() {
			dir, err := os.MkdirTemp("", "profiles")
			Expect(err).NotTo(HaveOccurred())
			defer os.RemoveAll(dir)

			path := filepath.Join(dir, "profiles.json")
			content := `{
	"profiles": {
		"lab": {
			"client": "go-redis",
			"topology": "single",
			"addrs": ["10.0.0.4:6379"],
			"dial_timeout": "2s",
			"read_timeout": 1500000000,
			"pool": {"max_total": 8, "timeout": "250ms"}
		}
	}
}`
			Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

			loaded, err := store.LoadProfiles(path)
			Expect(err).NotTo(HaveOccurred())

			lab, err := loaded.Get("lab")
			Expect(err).NotTo(HaveOccurred())
			Expect(lab.Addrs).To(Equal([]string{"10.0.0.4:6379"}))
			Expect(lab.DialTimeout).To(Equal(2 * time.Second))
			Expect(lab.ReadTimeout).To(Equal(1500 * time.Millisecond))
			Expect(lab.WriteTimeout).To(Equal(time.Duration(0)))
			Expect(lab.Pool.MaxTotal).To(Equal(8))
			Expect(lab.Pool.Timeout).To(Equal(250 * time.Millisecond))
		})

		It("Should reject a malformed JSON duration", func() {
			dir, err := os.MkdirTemp("", "profiles")
			Expect(err).NotTo(HaveOccurred())
			defer os.RemoveAll(dir)

			path := filepath.Join(dir, "profiles.json")
			Expect(os.WriteFile(path, []byte(`{"profiles": {"lab": {"addrs": ["h:1"], "dial_timeout": "soon", "pool": {"max_total": 1}}}}`), 0o644)).To(Succeed())

			_, err = store.LoadProfiles(path)
			Expect(err).To(MatchError(ContainSubstring("failed to parse JSON")))
		})

		It("Should reject an invalid profile in a file", func() {
			dir, err := os.MkdirTemp("", "profiles")
			Expect(err).NotTo(HaveOccurred())
			defer os.RemoveAll(dir)

			path := filepath.Join(dir, "profiles.json")
			Expect(os.WriteFile(path, []byte(`{"profiles": {"bad": {"client": "redigo", "topology": "cluster", "addrs": ["h:1"], "pool": {"max_total": 1}}}}`), 0o644)).To(Succeed())

			_, err = store.LoadProfiles(path)
			Expect(err).To(MatchError(ContainSubstring(`profile "bad"`)))
		})

		It("Should reject unknown file formats", func() {
			_, err := store.LoadProfiles("profiles.toml")
			Expect(err).To(HaveOccurred())
		})
	})
})
