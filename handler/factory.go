package handler

import (
	pionrtcp "github.com/pion/rtcp"

	"github.com/opd-ai/rtspgw/rtcp"
)

// ReportSource supplies the content of outgoing reports.
type ReportSource interface {
	SSRC() uint32
	CNAME() string
	WeSent() bool
	SenderReport() *pionrtcp.SenderReport
	ReceiverReport() *pionrtcp.ReceiverReport
}

// BuildReport builds an SR if the local participant sent media since the
// last report and an RR otherwise, followed by an SDES CNAME chunk.
func BuildReport(src ReportSource) *rtcp.CompoundPacket {
	var report pionrtcp.Packet
	if src.WeSent() {
		report = src.SenderReport()
	} else {
		report = src.ReceiverReport()
	}

	sdes := &pionrtcp.SourceDescription{Chunks: []pionrtcp.SourceDescriptionChunk{{
		Source: src.SSRC(),
		Items: []pionrtcp.SourceDescriptionItem{{
			Type: pionrtcp.SDESCNAME,
			Text: src.CNAME(),
		}},
	}}}

	return rtcp.NewCompoundPacket(report, sdes, nil)
}

// BuildBye builds a report followed by a BYE for the local SSRC.
func BuildBye(src ReportSource, reason string) *rtcp.CompoundPacket {
	p := BuildReport(src)
	p.Goodbye = &pionrtcp.Goodbye{
		Sources: []uint32{src.SSRC()},
		Reason:  reason,
	}
	return p
}
