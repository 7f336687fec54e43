package settlement

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-pay-ledger/app/entity"
)

// Fixed-width feedback layout shared by BCOL batch responses and EJV
// disbursement feedback.
//
//	H  source(5) date(8)
//	D  type(4) external id(20) reference(20) amount cents(15) return code(4) message
//	T  detail count(6) control total cents(15)
const (
	feedbackTypeWidth   = 4
	feedbackIDWidth     = 20
	feedbackRefWidth    = 20
	feedbackAmountWidth = 15
	feedbackCodeWidth   = 4
	feedbackDetailMin   = 1 + feedbackTypeWidth + feedbackIDWidth + feedbackRefWidth + feedbackAmountWidth + feedbackCodeWidth
)

func ParseFeedback(fileName string, content []byte) ([]*Record, error) {
	scanner := bufio.NewScanner(bytes.NewReader(content))

	var (
		source     entity.SettlementSource
		fileDate   time.Time
		records    []*Record
		sum        int64
		sawHeader  bool
		sawTrailer bool
		lineNumber int
	)

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if sawTrailer {
			return nil, fmt.Errorf("%w: line %d after trailer", ErrMalformedFile, lineNumber)
		}

		switch line[0] {
		case 'H':
			if sawHeader || len(line) < 14 {
				return nil, fmt.Errorf("%w: bad header at line %d", ErrMalformedFile, lineNumber)
			}
			source = entity.SettlementSource(strings.TrimSpace(line[1:6]))
			if source != entity.SettlementSourceBCOL && source != entity.SettlementSourceEJV {
				return nil, fmt.Errorf("%w: unsupported source %q", ErrMalformedFile, source)
			}
			parsed, err := time.Parse("20060102", line[6:14])
			if err != nil {
				return nil, fmt.Errorf("%w: bad header date", ErrMalformedFile)
			}
			fileDate = parsed
			sawHeader = true
		case 'D':
			if !sawHeader {
				return nil, fmt.Errorf("%w: detail before header", ErrMalformedFile)
			}
			record, err := parseFeedbackDetail(line, source, fileDate, fileName)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNumber, err)
			}
			sum += record.AmountCents
			records = append(records, record)
		case 'T':
			if !sawHeader || len(line) < 22 {
				return nil, fmt.Errorf("%w: bad trailer at line %d", ErrMalformedFile, lineNumber)
			}
			count, err := strconv.Atoi(line[1:7])
			if err != nil {
				return nil, fmt.Errorf("%w: bad trailer count", ErrMalformedFile)
			}
			total, err := strconv.ParseInt(strings.TrimSpace(line[7:22]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad trailer total", ErrMalformedFile)
			}
			if count != len(records) || total != sum {
				return nil, fmt.Errorf("%w: trailer mismatch count=%d/%d total=%d/%d", ErrMalformedFile, count, len(records), total, sum)
			}
			sawTrailer = true
		default:
			return nil, fmt.Errorf("%w: unknown record marker %q at line %d", ErrMalformedFile, line[0], lineNumber)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawHeader || !sawTrailer {
		return nil, fmt.Errorf("%w: missing header or trailer", ErrMalformedFile)
	}
	if records == nil {
		records = []*Record{}
	}
	return records, nil
}

func parseFeedbackDetail(line string, source entity.SettlementSource, fileDate time.Time, fileName string) (*Record, error) {
	if len(line) < feedbackDetailMin {
		return nil, fmt.Errorf("%w: detail too short", ErrMalformedFile)
	}

	pos := 1
	take := func(width int) string {
		v := line[pos : pos+width]
		pos += width
		return strings.TrimSpace(v)
	}

	recordType := strings.ToUpper(take(feedbackTypeWidth))
	externalID := take(feedbackIDWidth)
	reference := take(feedbackRefWidth)
	amountRaw := take(feedbackAmountWidth)
	code := take(feedbackCodeWidth)
	message := strings.TrimSpace(line[pos:])

	amount, err := strconv.ParseInt(amountRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amountRaw)
	}
	if externalID == "" || reference == "" {
		return nil, fmt.Errorf("%w: missing external id or reference", ErrMalformedFile)
	}

	return &Record{
		Source:         source,
		ExternalID:     externalID,
		Reference:      reference,
		RecordType:     recordType,
		AmountCents:    amount,
		AppliedAt:      fileDate,
		ReversalReason: message,
		Fields: map[string]string{
			"file_name":   fileName,
			"return_code": code,
		},
	}, nil
}
