package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/server"
	"github.com/MeKo-Tech/defectscan/internal/testutil"
	"github.com/cucumber/godog"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// do sends a request and records the response.
func (testCtx *TestContext) do(method, path, contentType string, body io.Reader, withToken bool) error {
	req, err := http.NewRequest(method, testCtx.ServerURL()+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if withToken && testCtx.Token != "" {
		req.Header.Set("Authorization", "Bearer "+testCtx.Token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = data
	testCtx.LastHTTPHeaders = resp.Header
	return nil
}

func (testCtx *TestContext) postJSON(path string, v any, withToken bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return testCtx.do(http.MethodPost, path, "application/json", bytes.NewReader(data), withToken)
}

// aRunningServer starts the in-process server.
func (testCtx *TestContext) aRunningServer() error {
	return testCtx.StartServer()
}

// aRunningServerWithRateLimit starts the server with a per-minute limit.
func (testCtx *TestContext) aRunningServerWithRateLimit(perMinute int) error {
	testCtx.Config.RateLimit = server.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: perMinute,
		RequestsPerHour:   1000,
		MaxRequestsPerDay: 1000,
		MaxDataPerDay:     1 << 30,
	}
	return testCtx.StartServer()
}

func (testCtx *TestContext) iRegister(username, password, email string) error {
	return testCtx.postJSON("/api/register", map[string]string{
		"username": username, "password": password, "email": email,
	}, false)
}

func (testCtx *TestContext) aRegisteredUser(username, password string) error {
	if err := testCtx.iRegister(username, password, username+"@example.com"); err != nil {
		return err
	}
	return testCtx.theResponseStatusShouldBe(http.StatusOK)
}

func (testCtx *TestContext) iLogIn(username, password string) error {
	if err := testCtx.postJSON("/api/login", map[string]string{
		"username": username, "password": password,
	}, false); err != nil {
		return err
	}
	if testCtx.LastHTTPStatusCode == http.StatusOK {
		var resp server.LoginResponse
		if err := json.Unmarshal(testCtx.LastHTTPResponse, &resp); err != nil {
			return err
		}
		testCtx.Token = resp.Token
	}
	return nil
}

func (testCtx *TestContext) iAmLoggedInAs(username, password string) error {
	if err := testCtx.aRegisteredUser(username, password); err != nil {
		return err
	}
	if err := testCtx.iLogIn(username, password); err != nil {
		return err
	}
	if testCtx.Token == "" {
		return fmt.Errorf("login returned no token: %s", testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) iLogOut() error {
	testCtx.Token = ""
	return nil
}

func (testCtx *TestContext) iRequest(method, path string) error {
	return testCtx.do(method, path, "", nil, true)
}

// parseRect reads "x1,y1,x2,y2".
func parseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("want x1,y1,x2,y2, got %q", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, err
		}
		v[i] = n
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}

// defectImage encodes a synthetic surface with defects at rects.
func defectImage(width, height int, name string, rects ...image.Rectangle) []byte {
	img := testutil.CreateDefectImage(width, height, rects...)
	var buf bytes.Buffer
	if strings.HasSuffix(strings.ToLower(name), ".png") {
		_ = encodePNG(&buf, img)
	} else {
		_ = encodeJPEG(&buf, img)
	}
	return buf.Bytes()
}

func (testCtx *TestContext) upload(name string, data []byte, version string) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if version != "" {
		if err := w.WriteField("version", version); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	if err := testCtx.do(http.MethodPost, "/upload", w.FormDataContentType(), &body, true); err != nil {
		return err
	}
	testCtx.LastUpload = nil
	if testCtx.LastHTTPStatusCode == http.StatusOK {
		var resp server.UploadResponse
		if err := json.Unmarshal(testCtx.LastHTTPResponse, &resp); err != nil {
			return err
		}
		testCtx.LastUpload = &resp
	}
	return nil
}

func (testCtx *TestContext) iUploadImageWithDefect(width, height int, name, rect string) error {
	r, err := parseRect(rect)
	if err != nil {
		return err
	}
	return testCtx.upload(name, defectImage(width, height, name, r), "")
}

func (testCtx *TestContext) iUploadImageWithDefectUsingModel(width, height int, name, rect, version string) error {
	r, err := parseRect(rect)
	if err != nil {
		return err
	}
	return testCtx.upload(name, defectImage(width, height, name, r), version)
}

func (testCtx *TestContext) iUploadRawFile(name, content string) error {
	return testCtx.upload(name, []byte(content), "")
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theJSONFieldShouldBe(field, want string) error {
	var body map[string]any
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &body); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	got, ok := body[field]
	if !ok {
		return fmt.Errorf("field %q missing in %s", field, testCtx.LastHTTPResponse)
	}
	if fmt.Sprint(got) != want {
		return fmt.Errorf("field %q: expected %s, got %v", field, want, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(string(testCtx.LastHTTPResponse), text) {
		return fmt.Errorf("response does not contain %q: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theHeaderShouldBeSet(name string) error {
	if testCtx.LastHTTPHeaders.Get(name) == "" {
		return fmt.Errorf("header %s not set", name)
	}
	return nil
}

func (testCtx *TestContext) theUploadShouldReportDefects(n int) error {
	if testCtx.LastUpload == nil {
		return fmt.Errorf("no successful upload: %s", testCtx.LastHTTPResponse)
	}
	if got := testCtx.LastUpload.DefectDetection.TotalDefects; got != n {
		return fmt.Errorf("expected %d defects, got %d", n, got)
	}
	return nil
}

func (testCtx *TestContext) theFirstDetectionShouldHaveBBox(rect string) error {
	r, err := parseRect(rect)
	if err != nil {
		return err
	}
	if testCtx.LastUpload == nil || len(testCtx.LastUpload.DefectDetection.Detections) == 0 {
		return fmt.Errorf("no detections in last upload")
	}
	want := [4]int{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
	if got := testCtx.LastUpload.DefectDetection.Detections[0].BBox; got != want {
		return fmt.Errorf("expected bbox %v, got %v", want, got)
	}
	return nil
}

func (testCtx *TestContext) theModelVersionShouldBe(version string) error {
	if testCtx.LastUpload == nil {
		return fmt.Errorf("no successful upload")
	}
	if testCtx.LastUpload.ModelVersion != version {
		return fmt.Errorf("expected model version %s, got %s", version, testCtx.LastUpload.ModelVersion)
	}
	return nil
}

func (testCtx *TestContext) theModelShouldHaveRunOnTiles(version string, tiles int) error {
	m, ok := testCtx.Models[version]
	if !ok {
		return fmt.Errorf("unknown model %s", version)
	}
	if got := m.Calls(); got != int64(tiles) {
		return fmt.Errorf("expected %s to run on %d tiles, got %d", version, tiles, got)
	}
	return nil
}

// theAnnotatedImageShouldBeServed fetches draw_url through /tmp/.
func (testCtx *TestContext) theAnnotatedImageShouldBeServed() error {
	if testCtx.LastUpload == nil {
		return fmt.Errorf("no successful upload")
	}
	path := testCtx.LastUpload.DrawURL
	path = strings.TrimPrefix(path, testCtx.Config.PublicURL)
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if err := testCtx.do(http.MethodGet, path, "", nil, false); err != nil {
		return err
	}
	if err := testCtx.theResponseStatusShouldBe(http.StatusOK); err != nil {
		return err
	}
	if _, _, err := image.Decode(bytes.NewReader(testCtx.LastHTTPResponse)); err != nil {
		return fmt.Errorf("annotated image does not decode: %w", err)
	}
	return nil
}

func (testCtx *TestContext) myHistoryShouldContainRecords(n int) error {
	if err := testCtx.do(http.MethodGet, "/api/history", "", nil, true); err != nil {
		return err
	}
	if err := testCtx.theResponseStatusShouldBe(http.StatusOK); err != nil {
		return err
	}
	var resp server.HistoryResponse
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &resp); err != nil {
		return err
	}
	if len(resp.Records) != n || resp.Pagination.Total != n {
		return fmt.Errorf("expected %d records, got %d (total %d)", n, len(resp.Records), resp.Pagination.Total)
	}
	return nil
}

func (testCtx *TestContext) iDeleteTheLastUploadedRecord() error {
	if testCtx.LastUpload == nil {
		return fmt.Errorf("no successful upload")
	}
	return testCtx.postJSON("/api/history/delete", map[string]int64{"record_id": testCtx.LastUpload.RecordID}, true)
}

// RegisterHTTPSteps registers HTTP API step definitions.
func (testCtx *TestContext) RegisterHTTPSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a running defect detection server$`, testCtx.aRunningServer)
	sc.Step(`^a running defect detection server limited to (\d+) requests? per minute$`,
		testCtx.aRunningServerWithRateLimit)
	sc.Step(`^a registered user "([^"]*)" with password "([^"]*)"$`, testCtx.aRegisteredUser)
	sc.Step(`^I am logged in as "([^"]*)" with password "([^"]*)"$`, testCtx.iAmLoggedInAs)
	sc.Step(`^I log out$`, testCtx.iLogOut)

	sc.Step(`^I register with username "([^"]*)", password "([^"]*)" and email "([^"]*)"$`, testCtx.iRegister)
	sc.Step(`^I log in with username "([^"]*)" and password "([^"]*)"$`, testCtx.iLogIn)
	sc.Step(`^I send a (GET|POST|OPTIONS) request to "([^"]*)"$`, testCtx.iRequest)
	sc.Step(`^I upload a (\d+)x(\d+) image "([^"]*)" with a defect at "([^"]*)"$`, testCtx.iUploadImageWithDefect)
	sc.Step(`^I upload a (\d+)x(\d+) image "([^"]*)" with a defect at "([^"]*)" using model "([^"]*)"$`,
		testCtx.iUploadImageWithDefectUsingModel)
	sc.Step(`^I upload a file "([^"]*)" containing "([^"]*)"$`, testCtx.iUploadRawFile)
	sc.Step(`^I delete the last uploaded record$`, testCtx.iDeleteTheLastUploadedRecord)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be set$`, testCtx.theHeaderShouldBeSet)
	sc.Step(`^the upload should report (\d+) defects?$`, testCtx.theUploadShouldReportDefects)
	sc.Step(`^the first detection should have bbox "([^"]*)"$`, testCtx.theFirstDetectionShouldHaveBBox)
	sc.Step(`^the model version should be "([^"]*)"$`, testCtx.theModelVersionShouldBe)
	sc.Step(`^model "([^"]*)" should have run on (\d+) tiles?$`, testCtx.theModelShouldHaveRunOnTiles)
	sc.Step(`^the annotated image should be served$`, testCtx.theAnnotatedImageShouldBeServed)
	sc.Step(`^my history should contain (\d+) records?$`, testCtx.myHistoryShouldContainRecords)
}
