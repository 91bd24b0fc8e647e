// Package hwcodec selects the H.264 encoder for a run.
//
// A Prober walks an ordered list of strategies (NVENC, Quick Sync, AMF) and
// picks the first whose probe reports the hardware present. Software x264 is
// always appended last with no probe, so selection never fails. The result is
// computed once per Prober and reused by every job in the run.
package hwcodec
