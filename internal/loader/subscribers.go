package loader

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/libreqos/lqosd/internal/config"
	"github.com/libreqos/lqosd/internal/domain"
	"github.com/libreqos/lqosd/internal/ipindex"
)

// subscriberColumns is the fixed 13-column header from spec.md §4.1.
var subscriberColumns = []string{
	"circuitID", "circuitName", "deviceID", "deviceName", "ParentNode",
	"mac", "ipv4", "ipv6", "downloadMin", "uploadMin", "downloadMax", "uploadMax", "comment",
}

// SubscriberLoadResult is the canonical Circuit list plus the per-circuit
// weight used by the Capacity Planner's bin-packing placement.
type SubscriberLoadResult struct {
	Circuits []*domain.Circuit

	// UnparentedWeight maps a circuit with no ParentNode to its
	// bin-packing weight (sum of min+max, both directions).
	UnparentedWeight map[string]int

	IPIndex *ipindex.Index
}

type rawRow struct {
	circuitID, circuitName, deviceID, deviceName, parentNode string
	mac, ipv4, ipv6, comment                                 string
	downloadMin, uploadMin, downloadMax, uploadMax           int
}

// LoadSubscribers parses and validates the subscriber CSV per spec.md
// §4.1. Validation is all-or-nothing: the first error aborts the whole
// load (SPEC_FULL.md §1's §9 "validation is all-or-nothing" decision).
func LoadSubscribers(r io.Reader, cfg *config.Config) (*SubscriberLoadResult, error) {
	rows, err := parseCSV(r)
	if err != nil {
		return nil, err
	}

	idx := ipindex.New()
	grouped := map[string]*domain.Circuit{}
	order := []string{}
	weight := map[string]int{}

	for i, row := range rows {
		circuitID := row.circuitID
		if circuitID == "" {
			return nil, fmt.Errorf("loader: row %d: circuitID must not be empty", i+1)
		}

		if row.downloadMin < 1 || row.uploadMin < 1 {
			return nil, fmt.Errorf("loader: row %d: min bandwidth must be >= 1", i+1)
		}
		if row.downloadMax < 2 || row.uploadMax < 2 {
			return nil, fmt.Errorf("loader: row %d: max bandwidth must be >= 2", i+1)
		}
		if row.downloadMin > row.downloadMax || row.uploadMin > row.uploadMax {
			return nil, fmt.Errorf("loader: row %d: min must be <= max", i+1)
		}

		parentNodeID := row.parentNode
		if override, ok := cfg.ExceptionCPEs[circuitID]; ok {
			parentNodeID = override
		}

		c, exists := grouped[circuitID]
		if !exists {
			c = &domain.Circuit{
				CircuitID:    circuitID,
				CircuitName:  row.circuitName,
				ParentNodeID: parentNodeID,
				MinDownload:  applyOverhead(row.downloadMin, cfg.TCPOverheadFactor),
				MinUpload:    applyOverhead(row.uploadMin, cfg.TCPOverheadFactor),
				MaxDownload:  applyOverhead(row.downloadMax, cfg.TCPOverheadFactor),
				MaxUpload:    applyOverhead(row.uploadMax, cfg.TCPOverheadFactor),
			}
			if isSuspended(row.comment) {
				c.Suspended = true
				c.MinDownload = cfg.SuspendedDownloadMbps
				c.MinUpload = cfg.SuspendedUploadMbps
				c.MaxDownload = cfg.SuspendedDownloadMbps + 1
				c.MaxUpload = cfg.SuspendedUploadMbps + 1
			}
			grouped[circuitID] = c
			order = append(order, circuitID)
		}
		// For later rows of the same circuitID the first row's name,
		// parent and bandwidth values win; later values that disagree are
		// ignored and no warning is produced.

		deviceID := row.deviceID
		if deviceID == "" {
			deviceID = uuid.NewString()
		}
		dev := &domain.Device{
			DeviceID:   deviceID,
			DeviceName: row.deviceName,
			MAC:        row.mac,
			Comment:    row.comment,
		}

		for _, raw := range splitIPList(row.ipv4) {
			if err := validateAndFilterIP(idx, deviceID, raw, cfg, true, &dev.IPv4s); err != nil {
				return nil, fmt.Errorf("loader: row %d: %w", i+1, err)
			}
		}
		for _, raw := range splitIPList(row.ipv6) {
			if err := validateAndFilterIP(idx, deviceID, raw, cfg, false, &dev.IPv6s); err != nil {
				return nil, fmt.Errorf("loader: row %d: %w", i+1, err)
			}
		}

		c.Devices = append(c.Devices, dev)

		if parentNodeID == "" || strings.EqualFold(parentNodeID, "none") {
			weight[circuitID] = c.MinDownload + c.MinUpload + c.MaxDownload + c.MaxUpload
		}
	}

	result := &SubscriberLoadResult{
		Circuits:         make([]*domain.Circuit, 0, len(order)),
		UnparentedWeight: weight,
		IPIndex:          idx,
	}
	for _, id := range order {
		result.Circuits = append(result.Circuits, grouped[id])
	}
	return result, nil
}

func applyOverhead(planMbps int, factor float64) int {
	return int(math.Round(float64(planMbps) * factor))
}

func isSuspended(comment string) bool {
	return strings.Contains(strings.ToUpper(comment), "SUSPENDED")
}

func splitIPList(field string) []string {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil
	}
	parts := strings.FieldsFunc(field, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateAndFilterIP(idx *ipindex.Index, deviceID, raw string, cfg *config.Config, v4 bool, dst *[]string) error {
	prefix, err := ipindex.ParsePrefix(raw)
	if err != nil {
		return err
	}
	if v4 != prefix.Addr().Is4() {
		return fmt.Errorf("%s is not a valid IPv%s address", raw, map[bool]string{true: "4", false: "6"}[v4])
	}
	if inAnyCIDR(prefix.Addr().String(), cfg.IgnoreSubnets) {
		return nil
	}
	if len(cfg.AllowedSubnets) > 0 && !inAnyCIDR(prefix.Addr().String(), cfg.AllowedSubnets) {
		return fmt.Errorf("%s is outside all allowedSubnets", raw)
	}
	if err := idx.Insert(deviceID, raw); err != nil {
		return err
	}
	*dst = append(*dst, raw)
	return nil
}

func inAnyCIDR(ip string, cidrs []string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, c := range cidrs {
		p, err := ipindex.ParsePrefix(c)
		if err != nil {
			continue
		}
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func parseCSV(r io.Reader) ([]rawRow, error) {
	reader := csv.NewReader(filterComments(r))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("loader: reading CSV header: %w", err)
	}
	colIdx := map[string]int{}
	for i, h := range header {
		colIdx[strings.TrimSpace(h)] = i
	}
	for _, want := range subscriberColumns {
		if _, ok := colIdx[want]; !ok {
			return nil, fmt.Errorf("loader: CSV missing required column %q", want)
		}
	}

	get := func(rec []string, name string) string {
		i := colIdx[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	getInt := func(rec []string, name string, lineNo int) (int, error) {
		raw := get(rec, name)
		if raw == "" {
			return 0, nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("loader: row %d: column %s: %w", lineNo, name, err)
		}
		return v, nil
	}

	var rows []rawRow
	lineNo := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNo++
		if err != nil {
			return nil, fmt.Errorf("loader: CSV parse error near line %d: %w", lineNo, err)
		}
		row := rawRow{
			circuitID:   get(rec, "circuitID"),
			circuitName: get(rec, "circuitName"),
			deviceID:    get(rec, "deviceID"),
			deviceName:  get(rec, "deviceName"),
			parentNode:  get(rec, "ParentNode"),
			mac:         get(rec, "mac"),
			ipv4:        get(rec, "ipv4"),
			ipv6:        get(rec, "ipv6"),
			comment:     get(rec, "comment"),
		}
		if row.downloadMin, err = getInt(rec, "downloadMin", lineNo); err != nil {
			return nil, err
		}
		if row.uploadMin, err = getInt(rec, "uploadMin", lineNo); err != nil {
			return nil, err
		}
		if row.downloadMax, err = getInt(rec, "downloadMax", lineNo); err != nil {
			return nil, err
		}
		if row.uploadMax, err = getInt(rec, "uploadMax", lineNo); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// filterComments strips lines starting with '#' before handing the stream
// to encoding/csv (spec.md §4.1: "Lines starting with # are comments").
func filterComments(r io.Reader) io.Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	var sb strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return strings.NewReader(sb.String())
}
