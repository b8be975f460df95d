package waf

import "regexp"

// Signature describes how one WAF vendor shows itself in responses. Key
// matches the vendor names used for bypass payload selection.
type Signature struct {
	Name    string
	Key     string
	Headers map[string]*regexp.Regexp
	Cookies []*regexp.Regexp
	Body    []*regexp.Regexp
}

var defaultSignatures = []Signature{
	{
		Name: "Cloudflare",
		Key:  "cloudflare",
		Headers: map[string]*regexp.Regexp{
			"Server":          regexp.MustCompile(`(?i)cloudflare`),
			"CF-Ray":          regexp.MustCompile(`.+`),
			"CF-Cache-Status": regexp.MustCompile(`.+`),
		},
		Cookies: []*regexp.Regexp{regexp.MustCompile(`^__cf_bm$|^__cfduid$|^cf_clearance$`)},
		Body: []*regexp.Regexp{
			regexp.MustCompile(`(?i)attention required! \| cloudflare`),
			regexp.MustCompile(`(?i)cloudflare ray id`),
		},
	},
	{
		Name: "Akamai Kona",
		Key:  "akamai",
		Headers: map[string]*regexp.Regexp{
			"Server":               regexp.MustCompile(`(?i)akamaighost|akamai`),
			"X-Akamai-Transformed": regexp.MustCompile(`.+`),
		},
		Cookies: []*regexp.Regexp{regexp.MustCompile(`^ak_bmsc$|^bm_sv$`)},
		Body: []*regexp.Regexp{
			regexp.MustCompile(`(?i)access denied.*reference #`),
		},
	},
	{
		Name: "Imperva Incapsula",
		Key:  "imperva",
		Headers: map[string]*regexp.Regexp{
			"X-Iinfo": regexp.MustCompile(`.+`),
			"X-CDN":   regexp.MustCompile(`(?i)incapsula|imperva`),
		},
		Cookies: []*regexp.Regexp{regexp.MustCompile(`^incap_ses_|^visid_incap_`)},
		Body: []*regexp.Regexp{
			regexp.MustCompile(`(?i)incapsula incident id`),
			regexp.MustCompile(`(?i)_incapsula_resource`),
		},
	},
	{
		Name: "AWS WAF",
		Key:  "aws_waf",
		Headers: map[string]*regexp.Regexp{
			"X-Amzn-Requestid": regexp.MustCompile(`.+`),
			"X-Amz-Cf-Id":      regexp.MustCompile(`.+`),
		},
		Cookies: []*regexp.Regexp{regexp.MustCompile(`^aws-waf-token$|^AWSALB`)},
		Body: []*regexp.Regexp{
			regexp.MustCompile(`(?i)request blocked.*aws`),
		},
	},
	{
		Name: "ModSecurity",
		Key:  "modsecurity",
		Headers: map[string]*regexp.Regexp{
			"Server": regexp.MustCompile(`(?i)mod_security|modsecurity|NYOB`),
		},
		Body: []*regexp.Regexp{
			regexp.MustCompile(`(?i)mod_security|modsecurity`),
			regexp.MustCompile(`(?i)this error was generated by mod_security`),
		},
	},
	{
		Name: "Sucuri",
		Key:  "sucuri",
		Headers: map[string]*regexp.Regexp{
			"Server":         regexp.MustCompile(`(?i)sucuri`),
			"X-Sucuri-ID":    regexp.MustCompile(`.+`),
			"X-Sucuri-Cache": regexp.MustCompile(`.+`),
		},
		Body: []*regexp.Regexp{
			regexp.MustCompile(`(?i)sucuri website firewall`),
		},
	},
	{
		Name: "F5 BIG-IP ASM",
		Key:  "f5_bigip",
		Headers: map[string]*regexp.Regexp{
			"Server": regexp.MustCompile(`(?i)big-?ip`),
		},
		Cookies: []*regexp.Regexp{regexp.MustCompile(`^TS[0-9a-f]{6,}$|^BIGipServer`)},
		Body: []*regexp.Regexp{
			regexp.MustCompile(`(?i)the requested url was rejected\. please consult with your administrator`),
		},
	},
	{
		Name:    "Barracuda",
		Key:     "barracuda",
		Cookies: []*regexp.Regexp{regexp.MustCompile(`^barra_counter_session$|^BNI__BARRACUDA_LB_COOKIE$`)},
		Body: []*regexp.Regexp{
			regexp.MustCompile(`(?i)barracuda`),
		},
	},
}
