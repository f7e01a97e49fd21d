package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nurisoft/contractdesk/internal/model"
	"github.com/nurisoft/contractdesk/pkg/pdftext"
)

// minTextLength is the heuristic below which extracted text is considered too
// thin to be a real contract. The engine still runs on shorter input (matching
// whatever it can, down to an all-null map); it never raises.
const minTextLength = 100

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`01[016789][-.\s]?\d{3,4}[-.\s]?\d{4}`)
	dateRe  = regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`)

	labeledDateRe    = regexp.MustCompile(`계약일자?\s*[:：]?\s*(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`)
	labeledEndDateRe = regexp.MustCompile(`(?:계약\s*종료일|종료일|만기일|만료일)\s*[:：]?\s*(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`)

	nameRe = regexp.MustCompile(`(?:계약자명?|성명|이름)\s*[:：]?\s*([가-힣]{2,10})`)
	typeRe = regexp.MustCompile(`(?:계약\s*유형|상품명|계약\s*상품)\s*[:：]?\s*([가-힣A-Za-z0-9]{2,20})`)

	investRe  = regexp.MustCompile(`(?:투자금액|투자금|계약금액)\s*[:：]?\s*([\d,.]+)\s*(억|만원|만\s*원|원)?`)
	monthlyRe = regexp.MustCompile(`(?:월\s*지급액|월지급금|월\s*수령액)\s*[:：]?\s*([\d,.]+)\s*(억|만원|만\s*원|원)?`)
	supportRe = regexp.MustCompile(`기타\s*지원금\s*[:：]?\s*([\d,.]+)\s*(억|만원|만\s*원|원)?`)
	unitRe    = regexp.MustCompile(`(\d+)\s*구좌`)

	bankSuffixRe     = regexp.MustCompile(`(KB국민|국민|신한|우리|하나|NH농협|농협|IBK기업|기업|SC제일|씨티|수협|부산|경남|광주|전북|대구|제주)\s*은행`)
	bankStandaloneRe = regexp.MustCompile(`카카오뱅크|토스뱅크|케이뱅크|새마을금고|우체국`)

	accountRe = regexp.MustCompile(`\d{2,6}(?:-\d{2,6}){1,4}`)

	addressRe = regexp.MustCompile(`(?:서울|부산|대구|인천|광주|대전|울산|세종|경기|강원|충청북도|충청남도|충북|충남|전라북도|전라남도|전북|전남|경상북도|경상남도|경북|경남|제주)[^\n,]{4,40}`)
)

// RegexEngine pulls the fixed field set out of raw contract text with pattern
// matching. First match wins per field; unmatched fields come back as null
// with confidence 0.
type RegexEngine struct{}

// NewRegexEngine creates the pattern-matching extractor.
func NewRegexEngine() *RegexEngine {
	return &RegexEngine{}
}

// ExtractText runs all field patterns over raw text and returns a complete
// field map. Empty or short input degrades to an all-null map; this engine
// never fails.
func (e *RegexEngine) ExtractText(text string) model.FieldMap {
	text = pdftext.Sanitize(text)

	if utf8.RuneCountInString(text) < minTextLength {
		zap.L().Debug("contract text below minimum length heuristic",
			zap.Int("runes", utf8.RuneCountInString(text)))
	}

	fm := model.FieldMap{}

	if v := firstMatch(emailRe, text); v != "" {
		fm[model.FieldEmail] = field(v, PatternEmail)
	}

	phone := firstMatch(phoneRe, text)
	if phone != "" {
		fm[model.FieldPhone] = field(normalizePhone(phone), PatternPhone)
	}

	if v := extractName(text); v != "" {
		fm[model.FieldContractorName] = field(v, PatternLabeledName)
	}

	if v := firstGroup(typeRe, text); v != "" {
		fm[model.FieldContractType] = field(strings.TrimSpace(v), PatternLabeledName)
	}

	contractDate, endDate := extractDates(text)
	if contractDate != "" {
		fm[model.FieldContractDate] = field(contractDate, PatternExplicitDate)
	}
	if endDate != "" {
		fm[model.FieldContractEndDate] = field(endDate, PatternExplicitDate)
	}

	if v, ok := extractAmount(investRe, text); ok {
		fm[model.FieldInvestmentAmount] = field(v, PatternCurrency)
	}
	if v, ok := extractAmount(monthlyRe, text); ok {
		fm[model.FieldMonthlyPayment] = field(v, PatternCurrency)
	}
	if v, ok := extractAmount(supportRe, text); ok {
		fm[model.FieldOtherSupport] = field(v, PatternCurrency)
	}
	if m := unitRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			fm[model.FieldUnitCount] = field(int64(n), PatternCurrency)
		}
	}

	if v := extractBank(text); v != "" {
		fm[model.FieldBankName] = field(v, PatternBankName)
	}

	if v := extractAccount(text, phone); v != "" {
		fm[model.FieldAccountNumber] = field(v, PatternAccountNumber)
	}

	if v := firstMatch(addressRe, text); v != "" {
		fm[model.FieldAddress] = field(strings.TrimSpace(v), PatternAddress)
	}

	return fm.Complete()
}

func field(value any, class PatternClass) model.ExtractedField {
	return model.ExtractedField{Value: value, Confidence: class.Confidence()}
}

func firstMatch(re *regexp.Regexp, text string) string {
	return re.FindString(text)
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

func extractName(text string) string {
	return firstGroup(nameRe, text)
}

// extractDates returns the contract date and the end date, both normalized to
// YYYY-MM-DD. An explicitly labeled 계약일 wins; otherwise the first date in
// the document is taken as the contract date. The end date requires a label.
func extractDates(text string) (contractDate, endDate string) {
	var endStart = -1
	if loc := labeledEndDateRe.FindStringSubmatchIndex(text); loc != nil {
		endDate = isoDate(text[loc[2]:loc[3]], text[loc[4]:loc[5]], text[loc[6]:loc[7]])
		endStart = loc[0]
	}

	if m := labeledDateRe.FindStringSubmatch(text); m != nil {
		return isoDate(m[1], m[2], m[3]), endDate
	}

	// No label: first plain date that is not part of the end-date phrase.
	for _, loc := range dateRe.FindAllStringSubmatchIndex(text, -1) {
		if endStart >= 0 && loc[0] >= endStart && loc[0] < endStart+40 {
			continue
		}
		return isoDate(text[loc[2]:loc[3]], text[loc[4]:loc[5]], text[loc[6]:loc[7]]), endDate
	}

	return "", endDate
}

func isoDate(y, m, d string) string {
	mi, _ := strconv.Atoi(m)
	di, _ := strconv.Atoi(d)
	return fmt.Sprintf("%s-%02d-%02d", y, mi, di)
}

// extractAmount parses a labeled currency match and normalizes 억/만원/원
// units to integer KRW.
func extractAmount(re *regexp.Regexp, text string) (int64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseKoreanAmount(m[1], m[2])
}

func parseKoreanAmount(num, unit string) (int64, bool) {
	num = strings.ReplaceAll(num, ",", "")
	num = strings.TrimRight(num, ".")
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}

	switch strings.ReplaceAll(unit, " ", "") {
	case "억":
		f *= 100_000_000
	case "만원":
		f *= 10_000
	}

	return int64(f + 0.5), true
}

func extractBank(text string) string {
	if m := bankSuffixRe.FindStringSubmatch(text); m != nil {
		return m[1] + "은행"
	}
	return bankStandaloneRe.FindString(text)
}

// extractAccount finds the first digit-grouped number that is not the already
// extracted phone number. Phone numbers match the generic account shape, so
// they are filtered out explicitly.
func extractAccount(text, phone string) string {
	for _, cand := range accountRe.FindAllString(text, -1) {
		if cand == phone || phoneRe.MatchString(cand) {
			continue
		}
		// Dates written 2024-03-05 also fit the grouped-digit shape.
		if isoDateRe.MatchString(cand) {
			continue
		}
		return cand
	}
	return ""
}

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func normalizePhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)

	switch len(digits) {
	case 11:
		return digits[:3] + "-" + digits[3:7] + "-" + digits[7:]
	case 10:
		return digits[:3] + "-" + digits[3:6] + "-" + digits[6:]
	default:
		return phone
	}
}
