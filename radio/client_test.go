package radio

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang/mock/gomock"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"

	"github.com/meshtastic/go/meshtastic"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func fromRadio(pb *meshtastic.FromRadio) []byte {
	data, err := proto.Marshal(pb)
	if err != nil {
		log.WithError(err).Fatal("error creating pb")
	}
	return data
}

func textPacket(from, to, id uint32, text string) *meshtastic.FromRadio {
	return &meshtastic.FromRadio{
		PayloadVariant: &meshtastic.FromRadio_Packet{
			Packet: &meshtastic.MeshPacket{
				From: from,
				To:   to,
				Id:   id,
				PayloadVariant: &meshtastic.MeshPacket_Decoded{
					Decoded: &meshtastic.Data{
						Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP,
						Payload: []byte(text),
					},
				},
			},
		},
	}
}

func routingAck(from, requestID uint32, reason meshtastic.Routing_Error) *meshtastic.FromRadio {
	routing, err := proto.Marshal(&meshtastic.Routing{
		Variant: &meshtastic.Routing_ErrorReason{ErrorReason: reason},
	})
	if err != nil {
		log.WithError(err).Fatal("error creating pb")
	}
	return &meshtastic.FromRadio{
		PayloadVariant: &meshtastic.FromRadio_Packet{
			Packet: &meshtastic.MeshPacket{
				From: from,
				PayloadVariant: &meshtastic.MeshPacket_Decoded{
					Decoded: &meshtastic.Data{
						Portnum:   meshtastic.PortNum_ROUTING_APP,
						Payload:   routing,
						RequestId: requestID,
					},
				},
			},
		},
	}
}

var _ = Describe("Client", func() {
	var mockTransport *MockTransport
	var client *Client

	BeforeEach(func() {
		ctrl := gomock.NewController(GinkgoT())
		mockTransport = NewMockTransport(ctrl)
		client = &Client{
			transport:  mockTransport,
			rx:         make(chan []byte, rxChanSize),
			events:     make(chan Packet, eventChanSize),
			nodes:      newNodeDB(),
			channels:   make(map[int32]*meshtastic.Channel),
			configDone: make(chan struct{}),
			pending:    make(map[uint32]chan error),
			loopDone:   make(chan struct{}),
		}
	})

	Context("Connect", func() {
		It("should complete the config handshake", func() {
			mockTransport.EXPECT().Connect().Return(nil)
			mockTransport.EXPECT().Listen()
			mockTransport.EXPECT().SendToRadio(gomock.Any()).DoAndReturn(func(data []byte) error {
				var msg meshtastic.ToRadio
				Expect(proto.Unmarshal(data, &msg)).Should(Succeed())
				id := msg.GetWantConfigId()
				Expect(id).ShouldNot(BeZero())
				go func() {
					client.rx <- fromRadio(&meshtastic.FromRadio{
						PayloadVariant: &meshtastic.FromRadio_MyInfo{
							MyInfo: &meshtastic.MyNodeInfo{MyNodeNum: 0xdeadbeef},
						},
					})
					client.rx <- fromRadio(&meshtastic.FromRadio{
						PayloadVariant: &meshtastic.FromRadio_ConfigCompleteId{ConfigCompleteId: id},
					})
				}()
				return nil
			})
			mockTransport.EXPECT().Close()

			err := client.Connect(context.Background())
			Expect(err).Should(BeNil())
			Expect(client.MyNodeNum()).Should(Equal(uint32(0xdeadbeef)))

			client.Close()
			close(client.rx) // stop goroutines
		})
		It("should error when the transport cannot connect", func() {
			mockTransport.EXPECT().Connect().Return(errors.New("error"))
			err := client.Connect(context.Background())
			Expect(err).Should(HaveOccurred())
		})
		It("should error when the want_config write fails", func() {
			mockTransport.EXPECT().Connect().Return(nil)
			mockTransport.EXPECT().Listen()
			mockTransport.EXPECT().SendToRadio(gomock.Any()).Return(errors.New("error"))
			mockTransport.EXPECT().Close()

			err := client.Connect(context.Background())
			Expect(err).Should(HaveOccurred())
			close(client.rx) // stop goroutines
		})
		It("should stop waiting when the context expires", func() {
			mockTransport.EXPECT().Connect().Return(nil)
			mockTransport.EXPECT().Listen()
			mockTransport.EXPECT().SendToRadio(gomock.Any()).Return(nil)
			mockTransport.EXPECT().Close()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			err := client.Connect(ctx)
			Expect(err).Should(MatchError(context.DeadlineExceeded))
			close(client.rx) // stop goroutines
		})
	})

	Context("receiveLoop", func() {
		It("should populate device state from the config dump", func() {
			client.configID = 1234
			go client.receiveLoop()

			client.rx <- fromRadio(&meshtastic.FromRadio{
				PayloadVariant: &meshtastic.FromRadio_MyInfo{
					MyInfo: &meshtastic.MyNodeInfo{MyNodeNum: 0xa1b2c3d4, RebootCount: 7},
				},
			})
			client.rx <- fromRadio(&meshtastic.FromRadio{
				PayloadVariant: &meshtastic.FromRadio_Metadata{
					Metadata: &meshtastic.DeviceMetadata{FirmwareVersion: "2.1.22.abcdef"},
				},
			})
			client.rx <- fromRadio(&meshtastic.FromRadio{
				PayloadVariant: &meshtastic.FromRadio_NodeInfo{
					NodeInfo: &meshtastic.NodeInfo{
						Num: 0xa1b2c3d4,
						User: &meshtastic.User{
							Id:        "!a1b2c3d4",
							LongName:  "Base Station 1",
							ShortName: "BS1",
							HwModel:   meshtastic.HardwareModel_TBEAM,
						},
						LastHeard: uint32(time.Now().Unix()),
					},
				},
			})
			client.rx <- fromRadio(&meshtastic.FromRadio{
				PayloadVariant: &meshtastic.FromRadio_Channel{
					Channel: &meshtastic.Channel{
						Index:    0,
						Role:     meshtastic.Channel_PRIMARY,
						Settings: &meshtastic.ChannelSettings{Psk: []byte{1}},
					},
				},
			})
			client.rx <- fromRadio(&meshtastic.FromRadio{
				PayloadVariant: &meshtastic.FromRadio_ConfigCompleteId{ConfigCompleteId: 1234},
			})

			Eventually(client.configDone).Should(BeClosed())
			Expect(client.MyNodeNum()).Should(Equal(uint32(0xa1b2c3d4)))

			info := client.MyInfo()
			Expect(info.ID).Should(Equal("!a1b2c3d4"))
			Expect(info.LongName).Should(Equal("Base Station 1"))
			Expect(info.HwModel).Should(Equal("TBEAM"))
			Expect(info.Firmware).Should(Equal("2.1.22.abcdef"))
			Expect(info.RebootCount).Should(Equal(uint32(7)))

			channels := client.Channels()
			Expect(channels).Should(HaveLen(1))
			Expect(channels[0].Role).Should(Equal("PRIMARY"))
			Expect(channels[0].HasPSK).Should(BeTrue())
			Expect(channels[0].DisplayName()).Should(Equal("LongFast"))

			close(client.rx)
		})
		It("should ignore a config complete for a stale nonce", func() {
			client.configID = 1234
			go client.receiveLoop()

			client.rx <- fromRadio(&meshtastic.FromRadio{
				PayloadVariant: &meshtastic.FromRadio_ConfigCompleteId{ConfigCompleteId: 999},
			})

			Consistently(client.configDone).ShouldNot(BeClosed())
			close(client.rx)
		})
		It("should emit mesh packets as events", func() {
			go client.receiveLoop()

			client.rx <- fromRadio(textPacket(0x11223344, BroadcastAddr, 55, "mesh hello"))

			var pkt Packet
			Eventually(client.Events()).Should(Receive(&pkt))
			Expect(pkt.Text).Should(Equal("mesh hello"))
			Expect(pkt.FromID).Should(Equal("!11223344"))
			Expect(pkt.Port).Should(Equal("TEXT_MESSAGE_APP"))
			Expect(pkt.Broadcast()).Should(BeTrue())

			// the sender got into the node table by being heard
			nodes := client.Nodes()
			Expect(nodes).Should(HaveLen(1))
			Expect(nodes[0].Num).Should(Equal(uint32(0x11223344)))

			close(client.rx)
		})
		It("should skip packets it cannot decrypt", func() {
			go client.receiveLoop()

			client.rx <- fromRadio(&meshtastic.FromRadio{
				PayloadVariant: &meshtastic.FromRadio_Packet{
					Packet: &meshtastic.MeshPacket{
						From: 0x11223344,
						PayloadVariant: &meshtastic.MeshPacket_Encrypted{
							Encrypted: []byte{0xde, 0xad},
						},
					},
				},
			})

			Consistently(client.Events()).ShouldNot(Receive())
			close(client.rx)
		})
		It("should report a lost transport", func() {
			go client.receiveLoop()
			close(client.rx)

			Eventually(client.Events()).Should(BeClosed())
			Expect(client.Err()).Should(MatchError(ErrTransportClosed))
		})
		It("should not report loss after a deliberate close", func() {
			mockTransport.EXPECT().Close()
			go client.receiveLoop()

			client.Close()
			close(client.rx)

			Eventually(client.Events()).Should(BeClosed())
			Expect(client.Err()).Should(BeNil())
		})
		It("should close only once", func() {
			mockTransport.EXPECT().Close().Times(1)
			client.Close()
			client.Close()
		})
	})

	Context("SendText", func() {
		It("should frame a text message", func() {
			var sent meshtastic.ToRadio
			mockTransport.EXPECT().
				SendToRadio(gomock.AssignableToTypeOf([]byte{})).
				DoAndReturn(func(data []byte) error {
					return proto.Unmarshal(data, &sent)
				})

			id, err := client.SendText(0x55667788, 0, "on my way", true)
			Expect(err).Should(BeNil())

			pkt := sent.GetPacket()
			Expect(pkt).ShouldNot(BeNil())
			Expect(pkt.GetTo()).Should(Equal(uint32(0x55667788)))
			Expect(pkt.GetId()).Should(Equal(id))
			Expect(pkt.GetWantAck()).Should(BeTrue())
			Expect(pkt.GetDecoded().GetPortnum()).Should(Equal(meshtastic.PortNum_TEXT_MESSAGE_APP))
			Expect(string(pkt.GetDecoded().GetPayload())).Should(Equal("on my way"))
		})
		It("should reject oversized messages", func() {
			_, err := client.SendText(BroadcastAddr, 0, strings.Repeat("x", maxMessageLen+1), false)
			Expect(err).Should(HaveOccurred())
		})
	})

	Context("SendTextAndWait", func() {
		feedAck := func(reason meshtastic.Routing_Error) {
			mockTransport.EXPECT().
				SendToRadio(gomock.AssignableToTypeOf([]byte{})).
				DoAndReturn(func(data []byte) error {
					var sent meshtastic.ToRadio
					Expect(proto.Unmarshal(data, &sent)).Should(Succeed())
					id := sent.GetPacket().GetId()
					go func() {
						client.rx <- fromRadio(routingAck(0x55667788, id, reason))
					}()
					return nil
				})
		}

		It("should deliver on a clean ack", func() {
			go client.receiveLoop()
			feedAck(meshtastic.Routing_NONE)

			err := client.SendTextAndWait(context.Background(), 0x55667788, 0, "ping")
			Expect(err).Should(BeNil())
			close(client.rx)
		})
		It("should surface a routing failure", func() {
			go client.receiveLoop()
			feedAck(meshtastic.Routing_MAX_RETRANSMIT)

			err := client.SendTextAndWait(context.Background(), 0x55667788, 0, "ping")
			Expect(err).Should(HaveOccurred())
			Expect(err.Error()).Should(ContainSubstring("MAX_RETRANSMIT"))
			close(client.rx)
		})
		It("should time out without an ack", func() {
			mockTransport.EXPECT().SendToRadio(gomock.Any()).Return(nil)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			err := client.SendTextAndWait(ctx, 0x55667788, 0, "ping")
			Expect(err).Should(MatchError(ErrAckTimeout))
			Expect(client.pending).Should(BeEmpty())
		})
	})

	Context("admin", func() {
		adminFrom := func(data []byte) *meshtastic.AdminMessage {
			var sent meshtastic.ToRadio
			Expect(proto.Unmarshal(data, &sent)).Should(Succeed())
			pkt := sent.GetPacket()
			Expect(pkt.GetDecoded().GetPortnum()).Should(Equal(meshtastic.PortNum_ADMIN_APP))
			var admin meshtastic.AdminMessage
			Expect(proto.Unmarshal(pkt.GetDecoded().GetPayload(), &admin)).Should(Succeed())
			return &admin
		}

		It("should add a secondary channel with a fresh psk", func() {
			var admin *meshtastic.AdminMessage
			mockTransport.EXPECT().
				SendToRadio(gomock.AssignableToTypeOf([]byte{})).
				DoAndReturn(func(data []byte) error {
					admin = adminFrom(data)
					return nil
				})

			ch, err := client.AddChannel("rescue")
			Expect(err).Should(BeNil())
			Expect(ch.Index).Should(Equal(int32(1)))
			Expect(ch.Role).Should(Equal("SECONDARY"))
			Expect(ch.HasPSK).Should(BeTrue())

			set := admin.GetSetChannel()
			Expect(set.GetSettings().GetName()).Should(Equal("rescue"))
			Expect(set.GetSettings().GetPsk()).Should(HaveLen(channelPSKLen))

			Expect(client.Channels()).Should(HaveLen(1))
		})
		It("should refuse to delete the primary channel", func() {
			err := client.DeleteChannel(0)
			Expect(err).Should(HaveOccurred())
		})
		It("should refuse to delete an unknown channel", func() {
			err := client.DeleteChannel(5)
			Expect(err).Should(MatchError(ErrInvalidChannel))
		})
		It("should swap roles when promoting a channel", func() {
			client.channels[0] = &meshtastic.Channel{
				Index:    0,
				Role:     meshtastic.Channel_PRIMARY,
				Settings: &meshtastic.ChannelSettings{Psk: []byte{1}},
			}
			client.channels[1] = &meshtastic.Channel{
				Index:    1,
				Role:     meshtastic.Channel_SECONDARY,
				Settings: &meshtastic.ChannelSettings{Name: "rescue", Psk: []byte{2, 3}},
			}
			mockTransport.EXPECT().
				SendToRadio(gomock.AssignableToTypeOf([]byte{})).
				Return(nil).
				Times(2)

			Expect(client.SetPrimaryChannel(1)).Should(Succeed())

			channels := client.Channels()
			Expect(channels[0].Role).Should(Equal("SECONDARY"))
			Expect(channels[1].Role).Should(Equal("PRIMARY"))
			Expect(channels[1].Name).Should(Equal("rescue"))
		})
		It("should resolve channels by index or name", func() {
			client.channels[1] = &meshtastic.Channel{
				Index:    1,
				Role:     meshtastic.Channel_SECONDARY,
				Settings: &meshtastic.ChannelSettings{Name: "rescue"},
			}

			byIdx, err := client.ResolveChannel("1")
			Expect(err).Should(BeNil())
			Expect(byIdx.Name).Should(Equal("rescue"))

			byName, err := client.ResolveChannel("RESCUE")
			Expect(err).Should(BeNil())
			Expect(byName.Index).Should(Equal(int32(1)))

			_, err = client.ResolveChannel("nope")
			Expect(err).Should(MatchError(ErrInvalidChannel))
		})
	})
})
