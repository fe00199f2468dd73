package client_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/keel/client"
)

var _ = Describe("AppData", func() {
	var (
		ctx    context.Context
		server *fakeServer
		c      *client.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = newFakeServer()
		c = newTestClient(server)

		Expect(c.Connect(ctx)).To(Succeed())
		settle()
	})

	AfterEach(func() {
		Expect(c.Disconnect()).To(Succeed())
		server.close()
	})

	Describe("validation", func() {
		It("rejects unknown scopes", func() {
			_, err := c.AppDataGet(ctx, "team", "chartplotter", "1.0", "layers")
			Expect(err).To(MatchError(client.ErrInvalidScope))
		})

		It("rejects an empty application identifier", func() {
			_, err := c.AppDataGet(ctx, client.ScopeUser, "", "1.0", "layers")
			Expect(err).To(MatchError(client.ErrMissingAppID))
		})

		It("rejects writes without a path", func() {
			err := c.AppDataSet(ctx, client.ScopeUser, "chartplotter", "1.0", "", 1)
			Expect(err).To(MatchError(client.ErrMissingPath))
		})

		It("requires a resolved endpoint", func() {
			Expect(c.Disconnect()).To(Succeed())

			_, err := c.AppDataGet(ctx, client.ScopeUser, "chartplotter", "1.0", "layers")
			Expect(err).To(MatchError(client.ErrNoHTTPBase))
		})

		It("requires at least one patch operation", func() {
			err := c.AppDataPatch(ctx, client.ScopeUser, "chartplotter", "1.0", nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("AppDataGet()", func() {
		It("reads from the application data root with a converted path", func() {
			_, err := c.AppDataGet(ctx, client.ScopeUser, "chartplotter", "1.0", "display.layers")
			Expect(err).To(Succeed())

			req := awaitRequest(server, "GET", "/signalk/v1/applicationData/user")
			Expect(req.Path).To(Equal("/signalk/v1/applicationData/user/chartplotter/1.0/display/layers"))
		})

		It("reads global scope data", func() {
			_, err := c.AppDataGet(ctx, client.ScopeGlobal, "chartplotter", "1.0", "layers")
			Expect(err).To(Succeed())

			req := awaitRequest(server, "GET", "/signalk/v1/applicationData/global")
			Expect(req.Path).To(Equal("/signalk/v1/applicationData/global/chartplotter/1.0/layers"))
		})
	})

	Describe("AppDataSet()", func() {
		It("posts the serialised value", func() {
			err := c.AppDataSet(ctx, client.ScopeUser, "chartplotter", "1.0", "display.brightness", 0.8)
			Expect(err).To(Succeed())

			req := awaitRequest(server, "POST", "/signalk/v1/applicationData/user")
			Expect(req.Path).To(Equal("/signalk/v1/applicationData/user/chartplotter/1.0/display/brightness"))
			Expect(gjson.ParseBytes(req.Body).Num).To(Equal(0.8))
		})
	})

	Describe("AppDataKeys()", func() {
		It("asks for keys and parses the array", func() {
			server.appData = `["display.layers","display.brightness"]`

			keys, err := c.AppDataKeys(ctx, client.ScopeUser, "chartplotter", "1.0")
			Expect(err).To(Succeed())
			Expect(keys).To(Equal([]string{"display.layers", "display.brightness"}))

			req := awaitRequest(server, "GET", "/signalk/v1/applicationData/user")
			Expect(req.Path).To(Equal("/signalk/v1/applicationData/user/chartplotter/1.0"))
			Expect(req.Query.Get("keys")).To(Equal("true"))
		})
	})

	Describe("AppDataVersions()", func() {
		It("lists versions without a version segment in the path", func() {
			server.appData = `["1.0","2.0"]`

			versions, err := c.AppDataVersions(ctx, client.ScopeUser, "chartplotter")
			Expect(err).To(Succeed())
			Expect(versions).To(Equal([]string{"1.0", "2.0"}))

			req := awaitRequest(server, "GET", "/signalk/v1/applicationData/user")
			Expect(req.Path).To(Equal("/signalk/v1/applicationData/user/chartplotter"))
		})
	})

	Describe("AppDataPatch()", func() {
		It("posts the operations as a JSON patch array", func() {
			err := c.AppDataPatch(ctx, client.ScopeUser, "chartplotter", "1.0", []client.PatchOperation{
				{Op: "add", Path: "/display/layers", Value: []string{"depth"}},
				{Op: "remove", Path: "/display/legacy"},
			})
			Expect(err).To(Succeed())

			req := awaitRequest(server, "POST", "/signalk/v1/applicationData/user")
			Expect(req.Path).To(Equal("/signalk/v1/applicationData/user/chartplotter/1.0"))

			ops := gjson.ParseBytes(req.Body).Array()
			Expect(ops).To(HaveLen(2))
			Expect(ops[0].Get("op").String()).To(Equal("add"))
			Expect(ops[1].Get("path").String()).To(Equal("/display/legacy"))
		})
	})
})
