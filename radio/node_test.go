package radio

import (
	"time"

	"github.com/meshtastic/go/meshtastic"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("node table", func() {
	var db *nodeDB
	now := time.Now()

	BeforeEach(func() {
		db = newNodeDB()
	})

	seed := func(num uint32, long, short string, heard time.Time) {
		db.applyUser(num, &meshtastic.User{
			Id:        NodeID(num),
			LongName:  long,
			ShortName: short,
		})
		db.touch(num, 0, heard)
	}

	Context("snapshot", func() {
		It("should order nodes most recently heard first", func() {
			seed(0x1, "Node A", "NDA", now.Add(-10*time.Minute))
			seed(0x2, "Node B", "NDB", now.Add(-1*time.Minute))
			seed(0x3, "Base 1", "BS1", now.Add(-45*time.Minute))

			nodes := db.snapshot()
			Expect(nodes).Should(HaveLen(3))
			Expect(nodes[0].LongName).Should(Equal("Node B"))
			Expect(nodes[1].LongName).Should(Equal("Node A"))
			Expect(nodes[2].LongName).Should(Equal("Base 1"))
		})
		It("should break last-heard ties by node number", func() {
			seed(0x9, "Node A", "NDA", now)
			seed(0x2, "Node B", "NDB", now)

			nodes := db.snapshot()
			Expect(nodes[0].Num).Should(Equal(uint32(0x2)))
			Expect(nodes[1].Num).Should(Equal(uint32(0x9)))
		})
		It("should never move last heard backwards", func() {
			seed(0x1, "Node A", "NDA", now)
			db.touch(0x1, 0, now.Add(-5*time.Minute))

			nodes := db.snapshot()
			Expect(nodes[0].LastHeard).Should(Equal(now))
		})
	})

	Context("applyNodeInfo", func() {
		It("should merge user, position and metrics", func() {
			db.applyNodeInfo(&meshtastic.NodeInfo{
				Num: 0xa1b2c3d4,
				User: &meshtastic.User{
					Id:        "!a1b2c3d4",
					LongName:  "Base Station 1",
					ShortName: "BS1",
					HwModel:   meshtastic.HardwareModel_HELTEC_V3,
				},
				Position: &meshtastic.Position{
					LatitudeI:  374459320,
					LongitudeI: -1221419120,
					Altitude:   18,
				},
				DeviceMetrics: &meshtastic.DeviceMetrics{
					BatteryLevel: 87,
					Voltage:      4.02,
				},
				Snr:       9.25,
				LastHeard: uint32(now.Unix()),
			})

			nodes := db.snapshot()
			Expect(nodes).Should(HaveLen(1))
			n := nodes[0]
			Expect(n.ID).Should(Equal("!a1b2c3d4"))
			Expect(n.ShortName).Should(Equal("BS1"))
			Expect(n.HwModel).Should(Equal("HELTEC_V3"))
			Expect(n.HasPosition).Should(BeTrue())
			Expect(n.Latitude).Should(BeNumerically("~", 37.445932, 1e-6))
			Expect(n.Longitude).Should(BeNumerically("~", -122.141912, 1e-6))
			Expect(n.Battery).Should(Equal(uint32(87)))
			Expect(n.SNR).Should(BeNumerically("~", 9.25, 1e-3))
		})
		It("should ignore a zero position", func() {
			db.applyNodeInfo(&meshtastic.NodeInfo{
				Num:      0x1,
				Position: &meshtastic.Position{LatitudeI: 0, LongitudeI: 0},
			})

			Expect(db.snapshot()[0].HasPosition).Should(BeFalse())
		})
	})

	Context("find", func() {
		BeforeEach(func() {
			seed(0xa1b2c3d4, "Base Station 1", "BS1", now)
			seed(0x11223344, "Node Alpha", "NDA", now)
			seed(0x55667788, "Node Beta", "NDB", now)
		})

		It("should match an exact node id", func() {
			n, err := db.find("!a1b2c3d4")
			Expect(err).Should(BeNil())
			Expect(n.LongName).Should(Equal("Base Station 1"))
		})
		It("should match a long name case-insensitively", func() {
			n, err := db.find("node alpha")
			Expect(err).Should(BeNil())
			Expect(n.Num).Should(Equal(uint32(0x11223344)))
		})
		It("should match a short name", func() {
			n, err := db.find("ndb")
			Expect(err).Should(BeNil())
			Expect(n.Num).Should(Equal(uint32(0x55667788)))
		})
		It("should reject an unknown name", func() {
			_, err := db.find("node gamma")
			Expect(err).Should(MatchError(ErrNodeNotFound))
		})
		It("should reject an ambiguous name", func() {
			seed(0x99, "Node Alpha", "ND2", now)
			_, err := db.find("Node Alpha")
			Expect(err).Should(MatchError(ErrAmbiguousNode))
		})
	})

	Context("Node", func() {
		It("should fall back through display names", func() {
			n := Node{Num: 0xdeadbeef}
			Expect(n.DisplayName()).Should(Equal("!deadbeef"))

			n.ID = "!deadbeef"
			Expect(n.DisplayName()).Should(Equal("!deadbeef"))

			n.LongName = "Rescue 7"
			Expect(n.DisplayName()).Should(Equal("Rescue 7"))
		})
		It("should consider recent nodes online", func() {
			n := Node{LastHeard: now.Add(-29 * time.Minute)}
			Expect(n.Online(now)).Should(BeTrue())

			n.LastHeard = now.Add(-31 * time.Minute)
			Expect(n.Online(now)).Should(BeFalse())
		})
		It("should never consider an unheard node online", func() {
			Expect(Node{}.Online(now)).Should(BeFalse())
		})
	})
})
